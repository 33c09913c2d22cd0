package backend

// Service identifies one of the downstream services known at startup.
type Service int

const (
	UserService Service = iota
	ItemService
	ListService

	numServices
)

// Count is the number of known downstream services.
const Count = int(numServices)

var serviceNames = [numServices]string{
	UserService: "user-service",
	ItemService: "item-service",
	ListService: "list-service",
}

// Services returns every known downstream service in declaration order.
func Services() []Service {
	all := make([]Service, 0, Count)
	for s := range numServices {
		all = append(all, s)
	}
	return all
}

// ParseService maps a registry name back to its enumerated service.
func ParseService(name string) (Service, bool) {
	for s, n := range serviceNames {
		if n == name {
			return Service(s), true
		}
	}
	return 0, false
}

// Valid reports whether s is one of the known services.
func (s Service) Valid() bool {
	return s >= 0 && s < numServices
}

// String returns the name the service registers under.
func (s Service) String() string {
	if !s.Valid() {
		return "unknown-service"
	}
	return serviceNames[s]
}
