// SPDX-License-Identifier: Apache-2.0

// Package config holds the resolved configuration record the engine acts
// on. Parsing config files and environment variables is cmd/waypoint's
// job (via viper); this package only defines the shape, keeping the
// engine itself free of any flag- or env-parsing dependency.
package config

import "time"

// SSLMode mirrors dbconn.SSLMode at the config layer to keep pkg/config
// free of a dependency on pkg/dbconn.
type SSLMode string

const (
	SSLDisable SSLMode = "disable"
	SSLPrefer  SSLMode = "prefer"
	SSLRequire SSLMode = "require"
)

// Database holds connection-level settings for a single target database.
type Database struct {
	URL     string
	SSLMode SSLMode

	// SSLRootCert is an optional path to a PEM bundle of trusted CA
	// roots verifying the server certificate. Empty means the system
	// trust store (see pkg/dbconn.Options.SSLRootCert).
	SSLRootCert string

	ConnectTimeout   time.Duration
	StatementTimeout time.Duration
	ConnectRetries   int
	KeepaliveSecs    int
}

// Migrations holds migration-resolution and run-policy settings. The
// mapstructure tags let viper decode the multi_database section of a
// config file straight into these structs.
type Migrations struct {
	Locations          []string      `mapstructure:"locations"`
	Schema             string        `mapstructure:"schema"`
	Table              string        `mapstructure:"table"`
	OutOfOrder         bool          `mapstructure:"out_of_order"`
	ValidateOnMigrate  bool          `mapstructure:"validate_on_migrate"`
	BaselineVersion    string        `mapstructure:"baseline_version"`
	Environment        string        `mapstructure:"environment"`
	DependencyOrdering bool          `mapstructure:"dependency_ordering"`
	BatchTransaction   bool          `mapstructure:"batch_transaction"`
	AutoReversal       bool          `mapstructure:"auto_reversal"`
	LockTimeout        time.Duration `mapstructure:"lock_timeout"`
}

// Hooks names the before/after migrate hook files. Hooks are resolved from
// the migration locations by well-known filename (see pkg/migrate); these
// fields only let a caller disable a hook category outright.
type Hooks struct {
	BeforeMigrate     bool
	AfterMigrate      bool
	BeforeEachMigrate bool
	AfterEachMigrate  bool
}

// MultiDatabaseEntry configures one member of a multi-database run.
type MultiDatabaseEntry struct {
	Name       string     `mapstructure:"name"`
	URL        string     `mapstructure:"url"`
	DependsOn  []string   `mapstructure:"depends_on"`
	Migrations Migrations `mapstructure:"migrations"`
}

// Config is the fully resolved configuration the engine façade consumes.
type Config struct {
	Database     Database
	Migrations   Migrations
	Placeholders map[string]string
	Hooks        Hooks
	FailFast     bool
	AllowClean   bool

	MultiDatabase []MultiDatabaseEntry
}

// DefaultSchema and DefaultTable are applied by the loader when the
// resolved config leaves Migrations.Schema/Table empty.
const (
	DefaultSchema = "public"
	DefaultTable  = "waypoint_schema_history"
)
