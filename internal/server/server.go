package server

import (
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/hashicorp-forge/wopihost/internal/config"
	"github.com/hashicorp-forge/wopihost/pkg/editor"
	"github.com/hashicorp-forge/wopihost/pkg/events"
	"github.com/hashicorp-forge/wopihost/pkg/locks"
	"github.com/hashicorp-forge/wopihost/pkg/proof"
	"github.com/hashicorp-forge/wopihost/pkg/storage"
	"github.com/hashicorp-forge/wopihost/pkg/tokens"
)

// Server contains the server configuration and the state shared by all
// handlers.
type Server struct {
	// Config is the config for the server.
	Config *config.Config

	// DB is the database for the server.
	DB *gorm.DB

	// Logger is the logger for the server.
	Logger hclog.Logger

	// Editors are the configured editing services with their discovery
	// caches.
	Editors *editor.Registry

	// Tokens issues and resolves access tokens.
	Tokens *tokens.Manager

	// Locks runs the per-file lock state machine.
	Locks *locks.Coordinator

	// Proof validates request signatures. Nil disables proof checks.
	Proof *proof.Validator

	Users      storage.UserDirectory
	Authorizer storage.Authorizer
	Files      storage.FileStore

	// Events receives file write events.
	Events events.Publisher
}
