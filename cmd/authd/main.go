package main

import (
	"context"
	"fmt"
	"os"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// sources chains an env var with a TOML key so either can set the flag.
func sources(envKey, tomlKey string, tomlSrc altsrc.Sourcer) cli.ValueSourceChain {
	chain := cli.EnvVars(envKey)
	chain.Chain = append(chain.Chain, toml.TOML(tomlKey, tomlSrc))
	return chain
}

func main() {
	var configFile string

	tomlSrc := altsrc.NewStringPtrSourcer(&configFile)

	cmd := &cli.Command{
		Name:    "authd",
		Usage:   "Authentication and session security service",
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Value:       "authd.toml",
				Usage:       "Path to configuration file",
				Destination: &configFile,
				Sources:     cli.EnvVars("AUTHD_CONFIG"),
			},

			// Server
			&cli.StringFlag{
				Name:    "host",
				Value:   "localhost",
				Usage:   "Listen host",
				Sources: sources("AUTHD_HOST", "server.host", tomlSrc),
			},
			&cli.IntFlag{
				Name:    "port",
				Value:   8080,
				Usage:   "Listen port",
				Sources: sources("AUTHD_PORT", "server.port", tomlSrc),
			},

			// Storage
			&cli.StringFlag{
				Name:    "database",
				Value:   "./data/auth.db",
				Usage:   "SQLite database path",
				Sources: sources("AUTHD_DATABASE", "database.path", tomlSrc),
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Usage:   "Redis address for shared revocation and codes (optional)",
				Sources: sources("AUTHD_REDIS_ADDR", "redis.addr", tomlSrc),
			},

			// Tokens
			&cli.StringFlag{
				Name:    "jwt-private-key",
				Usage:   "Path to the Ed25519 private key (PEM)",
				Sources: sources("AUTHD_JWT_PRIVATE_KEY", "jwt.private_key", tomlSrc),
			},
			&cli.StringFlag{
				Name:    "jwt-public-key",
				Usage:   "Path to the Ed25519 public key (PEM)",
				Sources: sources("AUTHD_JWT_PUBLIC_KEY", "jwt.public_key", tomlSrc),
			},
			&cli.StringFlag{
				Name:    "jwt-issuer",
				Value:   "authd",
				Usage:   "Issuer claim",
				Sources: sources("AUTHD_JWT_ISSUER", "jwt.issuer", tomlSrc),
			},
			&cli.StringFlag{
				Name:    "jwt-audience",
				Usage:   "Audience claim (optional)",
				Sources: sources("AUTHD_JWT_AUDIENCE", "jwt.audience", tomlSrc),
			},

			// Secrets
			&cli.StringFlag{
				Name:    "secrets-passphrase",
				Usage:   "Passphrase protecting MFA secrets at rest",
				Sources: sources("AUTHD_SECRETS_PASSPHRASE", "secrets.passphrase", tomlSrc),
			},

			// SMTP
			&cli.StringFlag{
				Name:    "smtp-host",
				Usage:   "SMTP host for email codes (optional)",
				Sources: sources("AUTHD_SMTP_HOST", "smtp.host", tomlSrc),
			},
			&cli.IntFlag{
				Name:    "smtp-port",
				Value:   587,
				Usage:   "SMTP port",
				Sources: sources("AUTHD_SMTP_PORT", "smtp.port", tomlSrc),
			},
			&cli.StringFlag{
				Name:    "smtp-username",
				Usage:   "SMTP username",
				Sources: sources("AUTHD_SMTP_USERNAME", "smtp.username", tomlSrc),
			},
			&cli.StringFlag{
				Name:    "smtp-password",
				Usage:   "SMTP password",
				Sources: sources("AUTHD_SMTP_PASSWORD", "smtp.password", tomlSrc),
			},
			&cli.StringFlag{
				Name:    "smtp-from",
				Usage:   "From address for outbound codes",
				Sources: sources("AUTHD_SMTP_FROM", "smtp.from", tomlSrc),
			},
			&cli.BoolFlag{
				Name:    "smtp-tls",
				Value:   true,
				Usage:   "Require TLS for SMTP",
				Sources: sources("AUTHD_SMTP_TLS", "smtp.tls", tomlSrc),
			},

			// Observability
			&cli.BoolFlag{
				Name:    "audit-log",
				Usage:   "Write audit events as JSON lines to stdout",
				Sources: sources("AUTHD_AUDIT_LOG", "audit.log", tomlSrc),
			},
			&cli.BoolFlag{
				Name:    "metrics",
				Usage:   "Enable engine metrics counters",
				Sources: sources("AUTHD_METRICS", "metrics.enabled", tomlSrc),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "Log level: debug, info, warn, error",
				Sources: sources("AUTHD_LOG_LEVEL", "log.level", tomlSrc),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Value:   "text",
				Usage:   "Log format: text, json",
				Sources: sources("AUTHD_LOG_FORMAT", "log.format", tomlSrc),
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
