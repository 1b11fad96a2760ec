package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/onnwee/soup/internal/soup"
)

// Fixture is a seed file. Timestamps are RFC 3339 strings.
type Fixture struct {
	Projects []ProjectFixture `koanf:"projects"`
	Items    []ItemFixture    `koanf:"items"`
	Grants   []GrantFixture   `koanf:"grants"`
	Views    []ViewFixture    `koanf:"views"`
	Scores   []ScoreFixture   `koanf:"scores"`
}

type ProjectFixture struct {
	ID       string `koanf:"id"`
	ParentID string `koanf:"parent_id"`
}

type ItemFixture struct {
	Kind         string `koanf:"kind"`
	ID           string `koanf:"id"`
	OwnerID      string `koanf:"owner_id"`
	Title        string `koanf:"title"`
	ProjectID    string `koanf:"project_id"`
	CreatedAt    string `koanf:"created_at"`
	UpdatedAt    string `koanf:"updated_at"`
	FileType     string `koanf:"file_type"`
	Model        string `koanf:"model"`
	MessageCount int    `koanf:"message_count"`
}

type GrantFixture struct {
	UserID   string `koanf:"user_id"`
	EntityID string `koanf:"entity_id"`
}

type ViewFixture struct {
	UserID   string `koanf:"user_id"`
	EntityID string `koanf:"entity_id"`
	ViewedAt string `koanf:"viewed_at"`
}

type ScoreFixture struct {
	UserID   string  `koanf:"user_id"`
	EntityID string  `koanf:"entity_id"`
	Score    float64 `koanf:"score"`
}

// loadFixture reads a YAML seed file.
func loadFixture(path string) (*Fixture, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load fixture %s: %w", path, err)
	}
	var f Fixture
	if err := k.Unmarshal("", &f); err != nil {
		return nil, fmt.Errorf("decode fixture %s: %w", path, err)
	}
	return &f, nil
}

// item converts a fixture row into a feed item.
func (f ItemFixture) item() (soup.Item, error) {
	if f.ID == "" || f.OwnerID == "" {
		return soup.Item{}, errors.New("item needs id and owner_id")
	}
	created, err := time.Parse(time.RFC3339, f.CreatedAt)
	if err != nil {
		return soup.Item{}, fmt.Errorf("item %s created_at: %w", f.ID, err)
	}
	updated := created
	if f.UpdatedAt != "" {
		if updated, err = time.Parse(time.RFC3339, f.UpdatedAt); err != nil {
			return soup.Item{}, fmt.Errorf("item %s updated_at: %w", f.ID, err)
		}
	}

	it := soup.Item{
		Kind:      soup.Kind(f.Kind),
		ID:        f.ID,
		OwnerID:   f.OwnerID,
		Title:     f.Title,
		CreatedAt: created.UTC(),
		UpdatedAt: updated.UTC(),
	}
	if f.ProjectID != "" {
		it.ProjectID = &f.ProjectID
	}
	switch it.Kind {
	case soup.KindDocument:
		it.Document = &soup.DocumentFields{FileType: f.FileType}
	case soup.KindChat:
		it.Chat = &soup.ChatFields{Model: f.Model, MessageCount: f.MessageCount}
	default:
		return soup.Item{}, fmt.Errorf("item %s: unknown kind %q", f.ID, f.Kind)
	}
	return it, nil
}
