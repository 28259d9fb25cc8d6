// Package seed loads story fixtures and writes them into a story store.
package seed

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/pscheid92/credpulse/internal/credibility"
	"github.com/pscheid92/credpulse/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed demo.yaml
var demoFixture []byte

type fixture struct {
	Stories []fixtureStory `yaml:"stories"`
}

type fixtureStory struct {
	ID         string   `yaml:"id"`
	Title      string   `yaml:"title"`
	Sources    []string `yaml:"sources"`
	Spread     float64  `yaml:"spread"`
	Confidence float64  `yaml:"confidence"`
	Status     string   `yaml:"verification_status"`
	Votes      struct {
		Credible   int64 `yaml:"credible"`
		Suspicious int64 `yaml:"suspicious"`
		Fake       int64 `yaml:"fake"`
	} `yaml:"votes"`
	Category string `yaml:"category"`
	Region   string `yaml:"region"`
}

// Parse decodes a YAML fixture. Entries without an id get a random UUID.
// Unknown keys and stories that would fail analysis are rejected.
func Parse(r io.Reader) ([]domain.Story, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f fixture
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode fixture: %w", err)
	}

	stories := make([]domain.Story, 0, len(f.Stories))
	seen := make(map[string]struct{}, len(f.Stories))
	for i, fs := range f.Stories {
		story, err := fs.toStory()
		if err != nil {
			return nil, fmt.Errorf("story %d: %w", i, err)
		}
		if _, dup := seen[story.ID]; dup {
			return nil, fmt.Errorf("story %d: %w: duplicate id %q", i, domain.ErrInvalidInput, story.ID)
		}
		seen[story.ID] = struct{}{}
		stories = append(stories, story)
	}
	return stories, nil
}

func (fs fixtureStory) toStory() (domain.Story, error) {
	status, err := domain.ParseVerificationStatus(fs.Status)
	if err != nil {
		return domain.Story{}, err
	}

	id := fs.ID
	if id == "" {
		id = uuid.NewString()
	}

	sources := fs.Sources
	if sources == nil {
		sources = []string{}
	}

	story := domain.Story{
		ID:         id,
		Title:      fs.Title,
		Sources:    sources,
		Spread:     fs.Spread,
		Confidence: fs.Confidence,
		Status:     status,
		Votes: domain.Tally{
			Credible:   fs.Votes.Credible,
			Suspicious: fs.Votes.Suspicious,
			Fake:       fs.Votes.Fake,
		},
		Category: fs.Category,
		Region:   fs.Region,
	}
	if err := credibility.Validate(story); err != nil {
		return domain.Story{}, fmt.Errorf("story %s: %w", id, err)
	}
	return story, nil
}

// LoadFile parses the fixture at path.
func LoadFile(path string) ([]domain.Story, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fixture: %w", err)
	}
	defer func() { _ = f.Close() }()

	return Parse(f)
}

// DemoStories returns the built-in demo data set.
func DemoStories() []domain.Story {
	stories, err := Parse(bytes.NewReader(demoFixture))
	if err != nil {
		panic(fmt.Sprintf("embedded demo fixture is invalid: %v", err))
	}
	return stories
}

// Write stores every story and returns how many were written before the first error.
func Write(ctx context.Context, w domain.StoryWriter, stories []domain.Story) (int, error) {
	for i, story := range stories {
		if err := w.PutStory(ctx, story); err != nil {
			return i, fmt.Errorf("failed to write story %s: %w", story.ID, err)
		}
		slog.DebugContext(ctx, "Story seeded", "story_id", story.ID, "category", story.Category)
	}
	return len(stories), nil
}
