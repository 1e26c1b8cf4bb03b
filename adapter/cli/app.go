package cli

import (
	"errors"

	"github.com/mlewis7127/licenceledger/adapter/api"
	internalApp "github.com/mlewis7127/licenceledger/internal/app"
)

// ErrAppNotInitialized is returned by commands that need the ledger when the
// container could not be built.
var ErrAppNotInitialized = errors.New("application not initialized - ledger store connection required")

// App holds the handlers the CLI commands call.
type App struct {
	Container *internalApp.Container

	CreateLicenceHandler api.LicenceCreator
	GetLicenceHandler    api.LicenceFinder
}

// NewApp creates a new CLI application backed by container.
func NewApp(container *internalApp.Container) *App {
	return &App{
		Container:            container,
		CreateLicenceHandler: container.CreateLicenceHandler,
		GetLicenceHandler:    container.GetLicenceHandler,
	}
}

// app is the global CLI application instance
var app *App

// SetApp sets the global CLI application instance.
func SetApp(a *App) {
	app = a
}

// GetApp returns the global CLI application instance.
func GetApp() *App {
	return app
}

// RequireApp returns the application or ErrAppNotInitialized.
func RequireApp() (*App, error) {
	if app == nil || app.Container == nil {
		return nil, ErrAppNotInitialized
	}
	return app, nil
}
