// Package capability tracks whether the client can be installed on the host
// and whether the user allowed notifications. Both states are per
// installation, not per tenant.
package capability

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/churchkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/churchkeeper/internal/logging"
)

type InstallState string

const (
	NotInstallable InstallState = "not_installable"
	Installable    InstallState = "installable"
	Installed      InstallState = "installed"
	Dismissed      InstallState = "dismissed"
)

// Choice is the user's answer to an install prompt.
type Choice string

const (
	ChoiceAccepted  Choice = "accepted"
	ChoiceDismissed Choice = "dismissed"
)

type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Host is the platform side: whether it offers installation, and the two
// user prompts.
type Host interface {
	Installable() bool
	PromptInstall(ctx context.Context) (Choice, error)
	RequestNotificationPermission(ctx context.Context) (Permission, error)
}

type Manager struct {
	host   Host
	meta   metadata.Repository
	logger logging.Logger

	mu         sync.Mutex
	install    InstallState
	permission Permission
}

func NewManager(host Host, meta metadata.Repository, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Manager{
		host:       host,
		meta:       meta,
		logger:     logger.With("module", "capability"),
		install:    NotInstallable,
		permission: PermissionDefault,
	}
}

// Load restores persisted state and asks the host whether installation is
// on offer.
func (m *Manager) Load(ctx context.Context) error {
	install, err := metadata.GetString(ctx, m.meta, metadata.KeyInstallState)
	if err != nil {
		return err
	}
	perm, err := metadata.GetString(ctx, m.meta, metadata.KeyNotificationPermission)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if install != "" {
		m.install = InstallState(install)
	}
	if perm != "" {
		m.permission = Permission(perm)
	}
	m.mu.Unlock()

	if m.host.Installable() {
		return m.MarkInstallable(ctx)
	}
	return nil
}

func (m *Manager) InstallState() InstallState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.install
}

func (m *Manager) CanInstall() bool {
	return m.InstallState() == Installable
}

func (m *Manager) IsInstalled() bool {
	return m.InstallState() == Installed
}

func (m *Manager) NotificationPermission() Permission {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.permission
}

// MarkInstallable records that the host now offers installation. It has no
// effect once installed. A dismissed prompt may be offered again.
func (m *Manager) MarkInstallable(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.install == Installed || m.install == Installable {
		return nil
	}
	return m.setInstall(ctx, Installable)
}

// MarkInstalled records that installation completed, however it was started.
func (m *Manager) MarkInstalled(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.install == Installed {
		return nil
	}
	return m.setInstall(ctx, Installed)
}

// PromptInstall shows the host's install prompt. Outside the Installable
// state nothing is shown and the result is ChoiceDismissed.
func (m *Manager) PromptInstall(ctx context.Context) (Choice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.install != Installable {
		return ChoiceDismissed, nil
	}

	choice, err := m.host.PromptInstall(ctx)
	if err != nil {
		return ChoiceDismissed, fmt.Errorf("install prompt: %w", err)
	}

	next := Dismissed
	if choice == ChoiceAccepted {
		next = Installed
	} else {
		choice = ChoiceDismissed
	}
	if err := m.setInstall(ctx, next); err != nil {
		return choice, err
	}
	return choice, nil
}

// RequestNotificationPermission asks the user once. After a granted or
// denied answer the stored answer is returned without asking again.
func (m *Manager) RequestNotificationPermission(ctx context.Context) (Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.permission != PermissionDefault {
		return m.permission, nil
	}

	p, err := m.host.RequestNotificationPermission(ctx)
	if err != nil {
		return PermissionDefault, fmt.Errorf("notification permission: %w", err)
	}
	if p != PermissionGranted && p != PermissionDenied {
		return PermissionDefault, nil
	}

	if err := metadata.SetString(ctx, m.meta, metadata.KeyNotificationPermission, string(p)); err != nil {
		return p, err
	}
	m.permission = p
	m.logger.Info(ctx, "notification permission decided", "permission", string(p))
	return p, nil
}

// setInstall must be called with mu held.
func (m *Manager) setInstall(ctx context.Context, s InstallState) error {
	if err := metadata.SetString(ctx, m.meta, metadata.KeyInstallState, string(s)); err != nil {
		return err
	}
	m.logger.Info(ctx, "install state changed", "from", string(m.install), "to", string(s))
	m.install = s
	return nil
}
