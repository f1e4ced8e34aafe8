package store

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mateNemeth/kona2.0/models"
)

// Fixtures seeds subscribers and their filters into a memory store.
type Fixtures struct {
	Subscribers []SubscriberFixture `yaml:"subscribers"`
}

// SubscriberFixture is one subscriber with the filters it owns.
type SubscriberFixture struct {
	Email   string               `yaml:"email"`
	Filters []models.AlertFilter `yaml:"filters"`
}

// LoadFixtures reads the YAML document at path into m and returns the
// number of filters added.
func LoadFixtures(m *Memory, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read fixtures: %w", err)
	}
	var fx Fixtures
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return 0, fmt.Errorf("decode fixtures %s: %w", path, err)
	}

	added := 0
	for i, sub := range fx.Subscribers {
		email := strings.TrimSpace(sub.Email)
		if email == "" {
			return added, fmt.Errorf("fixtures %s: subscriber %d has no email", path, i)
		}
		id := m.AddSubscriber(email)
		for _, f := range sub.Filters {
			f.SubscriberID = id
			m.AddAlertFilter(f)
			added++
		}
	}
	return added, nil
}
