package domain

import "time"

// Status is the canonical lifecycle state of a project. Presentation
// layers map these to display labels; nothing else is ever persisted.
type Status string

const (
	StatusQueued   Status = "queued"
	StatusBuilding Status = "building"
	StatusActive   Status = "active"
	StatusError    Status = "error"
)

// Valid reports whether s is one of the four canonical states.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusBuilding, StatusActive, StatusError:
		return true
	}
	return false
}

// Terminal reports whether s is a build outcome rather than an
// in-progress state.
func (s Status) Terminal() bool {
	return s == StatusActive || s == StatusError
}

// EnvVar is a single environment variable pair. Values are opaque
// bytes as far as the rest of the system is concerned.
type EnvVar struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Project describes a deployable unit bound to a source repository.
// ID doubles as the unit's name on the hosting platform, so it must
// satisfy the platform naming constraints (lowercase alphanumeric and
// hyphen).
type Project struct {
	ID             string
	Name           string
	Status         Status
	RepoURL        string
	Owner          string
	OwnerLogin     string
	Domain         string
	IsPublic       bool
	Autodeploy     bool
	EnvVars        []EnvVar
	BuildErrors    []string
	MissingEnvVars []string
	DeploymentLogs string
	BuildAttempt   int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastDeployed   *time.Time
}

// UnitState is the hosting platform's view of a deployable unit.
type UnitState string

const (
	UnitActive UnitState = "active"
	UnitError  UnitState = "error"
	UnitAbsent UnitState = "absent"
)

// ProjectStatus maps a platform unit state onto the canonical status
// enum. An absent unit counts as an error: the record claims a
// deployment that no longer exists.
func (u UnitState) ProjectStatus() Status {
	if u == UnitActive {
		return StatusActive
	}
	return StatusError
}
