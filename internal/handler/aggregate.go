package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/angeloszaimis/mesh-gateway/internal/backend"
	"github.com/angeloszaimis/mesh-gateway/internal/dispatch"
	"github.com/angeloszaimis/mesh-gateway/internal/httpserver"
)

const (
	dashboardListLimit = 5
	defaultSearchLimit = 10
	minQueryLength     = 2
)

var emptyArray = json.RawMessage("[]")

type dashboardResponse struct {
	Timestamp   string                `json:"timestamp"`
	User        json.RawMessage       `json:"user"`
	RecentLists json.RawMessage       `json:"recentLists"`
	Statistics  json.RawMessage       `json:"statistics"`
	Errors      []dispatch.ErrorEntry `json:"errors"`
}

// Dashboard combines the caller's profile, recent lists and statistics.
// Each part degrades to its empty value when its service fails.
func (h *GatewayHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		httpserver.WriteError(w, http.StatusUnauthorized, "Authorization header required", "")
		return
	}

	header := http.Header{"Authorization": {auth}}
	client := h.dispatcher.Client()

	outcomes := h.dispatcher.FanOut(r.Context(),
		dispatch.Request{
			Service: backend.UserService,
			Run: func(ctx context.Context, base *url.URL) ([]byte, error) {
				verified, err := client.PostJSON(ctx, base, "/auth/verify", map[string]string{"token": bearerToken(auth)}, nil)
				if err != nil {
					return nil, err
				}
				id := gjson.GetBytes(verified, "user.id")
				if !id.Exists() {
					return nil, fmt.Errorf("token verification: %w: missing user id", dispatch.ErrMalformedResponse)
				}
				return validJSON(client.Get(ctx, base, "/users/"+url.PathEscape(id.String()), nil, header))
			},
		},
		dispatch.Request{
			Service: backend.ListService,
			Run: func(ctx context.Context, base *url.URL) ([]byte, error) {
				query := url.Values{"limit": {strconv.Itoa(dashboardListLimit)}}
				return validJSON(client.Get(ctx, base, "/lists", query, header))
			},
		},
		dispatch.Request{
			Label:   "stats",
			Service: backend.ListService,
			Run: func(ctx context.Context, base *url.URL) ([]byte, error) {
				return validJSON(client.Get(ctx, base, "/stats", nil, header))
			},
		},
	)

	user, lists, stats := outcomes[0], outcomes[1], outcomes[2]

	resp := dashboardResponse{
		Timestamp:   h.timestamp(),
		User:        nullUnlessOK(user),
		RecentLists: emptyArray,
		Statistics:  nullUnlessOK(stats),
		Errors:      dispatch.Errors(outcomes),
	}
	if lists.OK() {
		resp.RecentLists = arrayAt(lists.Body, "lists")
	}

	httpserver.WriteJSON(w, http.StatusOK, resp)
}

type searchResponse struct {
	Query  string                `json:"query"`
	Items  json.RawMessage       `json:"items"`
	Lists  json.RawMessage       `json:"lists"`
	Errors []dispatch.ErrorEntry `json:"errors"`
}

// GlobalSearch searches items for everyone and, when the caller is
// authenticated, the names of their lists.
func (h *GatewayHandler) GlobalSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if len(strings.TrimSpace(q)) < minQueryLength {
		httpserver.WriteError(w, http.StatusBadRequest, "Search query must be at least 2 characters", "")
		return
	}

	limit := defaultSearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			httpserver.WriteError(w, http.StatusBadRequest, "Limit must be a positive integer", raw)
			return
		}
		limit = n
	}

	auth := r.Header.Get("Authorization")
	header := http.Header{}
	if auth != "" {
		header.Set("Authorization", auth)
	}
	client := h.dispatcher.Client()

	requests := []dispatch.Request{{
		Service: backend.ItemService,
		Run: func(ctx context.Context, base *url.URL) ([]byte, error) {
			query := url.Values{"q": {q}, "limit": {strconv.Itoa(limit)}}
			return validJSON(client.Get(ctx, base, "/search", query, header))
		},
	}}
	if auth != "" {
		requests = append(requests, dispatch.Request{
			Service: backend.ListService,
			Run: func(ctx context.Context, base *url.URL) ([]byte, error) {
				body, err := validJSON(client.Get(ctx, base, "/lists", nil, header))
				if err != nil {
					return nil, err
				}
				return filterByName(body, q, limit), nil
			},
		})
	}

	outcomes := h.dispatcher.FanOut(r.Context(), requests...)

	resp := searchResponse{
		Query:  q,
		Items:  emptyArray,
		Lists:  emptyArray,
		Errors: dispatch.Errors(outcomes),
	}
	if outcomes[0].OK() {
		resp.Items = arrayAt(outcomes[0].Body, "items")
	}
	if len(outcomes) > 1 && outcomes[1].OK() {
		resp.Lists = outcomes[1].Body
	}

	httpserver.WriteJSON(w, http.StatusOK, resp)
}

// filterByName keeps at most limit entries of body's lists array whose
// name contains q, ignoring case.
func filterByName(body []byte, q string, limit int) []byte {
	needle := strings.ToLower(q)
	matches := make([]string, 0, limit)

	gjson.GetBytes(body, "lists").ForEach(func(_, list gjson.Result) bool {
		if strings.Contains(strings.ToLower(list.Get("name").String()), needle) {
			matches = append(matches, list.Raw)
		}
		return len(matches) < limit
	})

	return []byte("[" + strings.Join(matches, ",") + "]")
}

func arrayAt(body []byte, path string) json.RawMessage {
	result := gjson.GetBytes(body, path)
	if !result.IsArray() {
		return emptyArray
	}
	return json.RawMessage(result.Raw)
}

func nullUnlessOK(o dispatch.Outcome) json.RawMessage {
	if !o.OK() {
		return nil
	}
	return o.Body
}

func validJSON(body []byte, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: invalid JSON", dispatch.ErrMalformedResponse)
	}
	return body, nil
}

func bearerToken(auth string) string {
	fields := strings.Fields(auth)
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}
