package registry_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/tidwall/gjson"

	"github.com/angeloszaimis/mesh-gateway/internal/registry"
)

var _ = Describe("Store", func() {
	var (
		tempDir string
		path    string
		store   *registry.Store
	)

	record := func(name string, port int) registry.Record {
		return registry.Record{
			Name:          name,
			Host:          "localhost",
			Port:          port,
			Status:        registry.StatusHealthy,
			LastHeartbeat: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
			Metadata:      map[string]string{"version": "1.0.0"},
		}
	}

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "registry-store-*")
		Expect(err).NotTo(HaveOccurred())
		path = filepath.Join(tempDir, "data", "service-registry.json")

		store, err = registry.OpenStore(path, quietLogger())
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(tempDir)
	})

	It("should start empty when the file does not exist", func() {
		Expect(store.All()).To(BeEmpty())
		Expect(path).NotTo(BeAnExistingFile())
	})

	It("should keep one record per name", func() {
		Expect(store.Put(record("item-service", 3003))).To(Succeed())
		Expect(store.Put(record("item-service", 4003))).To(Succeed())

		Expect(store.Len()).To(Equal(1))
		rec, ok := store.Get("item-service")
		Expect(ok).To(BeTrue())
		Expect(rec.Port).To(Equal(4003))
	})

	It("should return copies that do not alias stored metadata", func() {
		Expect(store.Put(record("item-service", 3003))).To(Succeed())

		rec, _ := store.Get("item-service")
		rec.Metadata["version"] = "tampered"

		again, _ := store.Get("item-service")
		Expect(again.Metadata["version"]).To(Equal("1.0.0"))
	})

	It("should list records ordered by name", func() {
		store.Put(record("list-service", 3002))
		store.Put(record("item-service", 3003))
		store.Put(record("api-gateway", 3005))

		names := []string{}
		for _, rec := range store.All() {
			names = append(names, rec.Name)
		}
		Expect(names).To(Equal([]string{"api-gateway", "item-service", "list-service"}))
	})

	It("should report whether remove deleted anything", func() {
		store.Put(record("item-service", 3003))

		removed, err := store.Remove("item-service")
		Expect(err).NotTo(HaveOccurred())
		Expect(removed).To(BeTrue())

		removed, err = store.Remove("item-service")
		Expect(err).NotTo(HaveOccurred())
		Expect(removed).To(BeFalse())
	})

	It("should persist every mutation and reload it", func() {
		store.Put(record("item-service", 3003))
		store.Put(record("list-service", 3002))
		store.Remove("list-service")

		Expect(path).To(BeAnExistingFile())

		reopened, err := registry.OpenStore(path, quietLogger())
		Expect(err).NotTo(HaveOccurred())
		Expect(reopened.Len()).To(Equal(1))

		rec, ok := reopened.Get("item-service")
		Expect(ok).To(BeTrue())
		Expect(rec.URL()).To(Equal("http://localhost:3003"))
		Expect(rec.LastHeartbeat.Equal(record("x", 1).LastHeartbeat)).To(BeTrue())
		Expect(rec.Metadata).To(HaveKeyWithValue("version", "1.0.0"))
	})

	It("should write the mapping keyed by service name with a derived url", func() {
		store.Put(record("item-service", 3003))

		data, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(gjson.ValidBytes(data)).To(BeTrue())
		Expect(gjson.GetBytes(data, "item-service.name").String()).To(Equal("item-service"))
		Expect(gjson.GetBytes(data, "item-service.url").String()).To(Equal("http://localhost:3003"))
	})

	It("should recompute the url instead of trusting the file", func() {
		content := `{"item-service":{"name":"item-service","host":"10.0.0.5","port":9000,"url":"http://elsewhere:1","status":"healthy","lastHeartbeat":"2026-03-01T10:00:00Z","metadata":{}}}`
		Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
		Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())

		reopened, err := registry.OpenStore(path, quietLogger())
		Expect(err).NotTo(HaveOccurred())
		rec, _ := reopened.Get("item-service")
		Expect(rec.URL()).To(Equal("http://10.0.0.5:9000"))
	})

	It("should treat a corrupt file as empty", func() {
		Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
		Expect(os.WriteFile(path, []byte("{not json"), 0o644)).To(Succeed())

		reopened, err := registry.OpenStore(path, quietLogger())
		Expect(err).NotTo(HaveOccurred())
		Expect(reopened.All()).To(BeEmpty())
	})

	Describe("Update", func() {
		It("should mutate in place and persist", func() {
			store.Put(record("item-service", 3003))

			rec, ok, err := store.Update("item-service", func(r *registry.Record) bool {
				r.Status = registry.StatusUnhealthy
				return true
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(rec.Status).To(Equal(registry.StatusUnhealthy))

			reopened, _ := registry.OpenStore(path, quietLogger())
			persisted, _ := reopened.Get("item-service")
			Expect(persisted.Status).To(Equal(registry.StatusUnhealthy))
		})

		It("should report absent names", func() {
			_, ok, err := store.Update("ghost", func(*registry.Record) bool { return true })
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("should discard changes when fn reports none", func() {
			store.Put(record("item-service", 3003))
			store.Update("item-service", func(r *registry.Record) bool {
				r.Port = 1
				return false
			})

			rec, _ := store.Get("item-service")
			Expect(rec.Port).To(Equal(3003))
		})
	})

	Describe("RemoveWhere", func() {
		It("should remove all matching records at once", func() {
			store.Put(record("item-service", 3003))
			store.Put(record("list-service", 3002))
			store.Put(record("user-service", 3001))

			removed, err := store.RemoveWhere(func(r registry.Record) bool {
				return r.Port != 3002
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(removed).To(Equal([]string{"item-service", "user-service"}))
			Expect(store.Len()).To(Equal(1))
		})

		It("should return nothing when no record matches", func() {
			store.Put(record("item-service", 3003))
			removed, err := store.RemoveWhere(func(registry.Record) bool { return false })
			Expect(err).NotTo(HaveOccurred())
			Expect(removed).To(BeEmpty())
		})
	})

	Context("in memory", func() {
		It("should work without a file", func() {
			mem, err := registry.OpenStore("", quietLogger())
			Expect(err).NotTo(HaveOccurred())
			Expect(mem.Put(record("item-service", 3003))).To(Succeed())
			Expect(mem.Len()).To(Equal(1))
		})
	})
})
