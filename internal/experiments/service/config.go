package service

import (
	"strings"

	"nimbus/internal/experiments/catalog"
	"nimbus/internal/experiments/identity"
	"nimbus/internal/experiments/models"
)

// Config holds the optional construction inputs. Each zero field falls back
// to its default independently of the others.
type Config struct {
	ServerURL         string
	CollectionName    string
	BucketName        string
	RandomizationUnit *models.RandomizationUnit
}

// Resolved returns a copy with every unset field defaulted. A fresh
// randomization unit is generated when none was supplied.
func (c Config) Resolved() Config {
	if strings.TrimSpace(c.ServerURL) == "" {
		c.ServerURL = catalog.DefaultBaseURL
	}
	if strings.TrimSpace(c.CollectionName) == "" {
		c.CollectionName = catalog.DefaultCollectionName
	}
	if strings.TrimSpace(c.BucketName) == "" {
		c.BucketName = catalog.DefaultBucketName
	}
	if c.RandomizationUnit == nil {
		unit := identity.New()
		c.RandomizationUnit = &unit
	}
	return c
}
