// Package seeder generates fake events and posts them to the front door.
package seeder

import (
	"encoding/json"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/telhawk-systems/eventgate/internal/models"
	"github.com/telhawk-systems/eventgate/internal/service"
)

// Generator produces events for one channel. A non-zero seed makes the
// sequence reproducible.
type Generator struct {
	faker   *gofakeit.Faker
	channel string
	issued  []string
}

func NewGenerator(channel string, seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{faker: gofakeit.New(seed), channel: channel}
}

// Next returns a new event. With probability duplicateRatio it reuses an
// event id issued earlier, with a fresh payload.
func (g *Generator) Next(duplicateRatio float64) (*models.Event, bool) {
	var id string
	duplicate := false
	if len(g.issued) > 0 && duplicateRatio > 0 && g.faker.Float64Range(0, 1) < duplicateRatio {
		id = g.issued[g.faker.Number(0, len(g.issued)-1)]
		duplicate = true
	} else {
		id = g.faker.UUID()
		g.issued = append(g.issued, id)
	}

	payload, _ := json.Marshal(g.payload())
	metadata, _ := json.Marshal(map[string]interface{}{
		"source":     "eventgate-seeder",
		"user_agent": g.faker.UserAgent(),
	})

	return &models.Event{
		EventID:   id,
		Payload:   payload,
		Metadata:  metadata,
		Timestamp: time.Now().UTC(),
	}, duplicate
}

func (g *Generator) payload() map[string]interface{} {
	if g.channel == service.ChannelSample {
		return map[string]interface{}{
			"sensor_id": g.faker.UUID(),
			"location": map[string]float64{
				"lat": g.faker.Latitude(),
				"lon": g.faker.Longitude(),
			},
			"reading":  g.faker.Float64Range(-40, 120),
			"unit":     g.faker.RandomString([]string{"celsius", "fahrenheit", "percent", "ppm"}),
			"tags":     []string{g.faker.Word(), g.faker.Word()},
			"captured": g.faker.DateRange(time.Now().Add(-24*time.Hour), time.Now()).UTC(),
		}
	}
	return map[string]interface{}{
		"email":   g.faker.Email(),
		"name":    g.faker.Name(),
		"company": g.faker.Company(),
		"plan":    g.faker.RandomString([]string{"free", "starter", "pro", "enterprise"}),
		"country": g.faker.CountryAbr(),
		"opt_in":  g.faker.Bool(),
	}
}
