package demotests

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"sync"

	"github.com/gofiber/fiber/v2"

	"github.com/launchdarkly/loop-test-harness/framework"
	"github.com/launchdarkly/loop-test-harness/loops"
	"github.com/launchdarkly/loop-test-harness/looptest"
)

const (
	greetingFixture = "greeting"
	storeFixture    = "store"
	appFixture      = "app"
)

// itemStore is the state behind the demo application.
type itemStore struct {
	items  map[string]string
	closed bool
	lock   sync.Mutex
}

func (s *itemStore) Get(key string) (string, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	v, ok := s.items[key]
	return v, ok
}

func (s *itemStore) Put(key, value string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	s.items[key] = value
	return nil
}

func (s *itemStore) Keys() []string {
	s.lock.Lock()
	defer s.lock.Unlock()
	ret := make([]string, 0, len(s.items))
	for k := range s.items {
		ret = append(ret, k)
	}
	sort.Strings(ret)
	return ret
}

func (s *itemStore) Closed() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.closed
}

func fixtures() []*framework.FixtureDef {
	return []*framework.FixtureDef{
		{
			Name: greetingFixture,
			Func: looptest.AsyncFixtureFunc(func(ctx context.Context, args framework.Args) (interface{}, error) {
				return fmt.Sprintf("hello from the %s loop", loops.FromContext(ctx).Name()), nil
			}),
		},
		{
			Name: storeFixture,
			Func: looptest.AsyncGenFixtureFunc(func(ctx context.Context, args framework.Args) iter.Seq2[interface{}, error] {
				return func(yield func(interface{}, error) bool) {
					store := &itemStore{items: make(map[string]string)}
					if !yield(store, nil) {
						return
					}
					store.lock.Lock()
					store.closed = true
					store.lock.Unlock()
				}
			}),
		},
		{
			Name:     appFixture,
			ArgNames: []string{storeFixture},
			Func: framework.FixtureFunc(func(args framework.Args) (interface{}, error) {
				return newItemsApp(framework.Value[*itemStore](args, storeFixture)), nil
			}),
		},
	}
}

// newItemsApp creates a small JSON API over the store.
func newItemsApp(store *itemStore) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})
	app.Get("/items", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"keys": store.Keys()})
	})
	app.Get("/items/:key", func(c *fiber.Ctx) error {
		value, ok := store.Get(c.Params("key"))
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
		}
		return c.JSON(fiber.Map{"key": c.Params("key"), "value": value})
	})
	app.Put("/items/:key", func(c *fiber.Ctx) error {
		if err := store.Put(c.Params("key"), string(c.Body())); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
	return app
}
