// Command agentctl is a small CLI exercising the agent package's
// call/query/read-state operations against a configured replica.
//
// Usage:
//
//	agentctl call    --replica <url> --root-key <hex> --canister <hex> --method <name> [--arg <hex>]
//	agentctl query   --replica <url> --root-key <hex> --canister <hex> --method <name> [--arg <hex>]
//	agentctl read-state --replica <url> --root-key <hex> --canister <hex> --path <a/b/c> [--path ...]
//	agentctl identity new
//
// agentctl is a demo and debugging surface, not a production wallet or
// deployment tool: it holds an in-memory Ed25519 identity for the
// lifetime of one invocation and has no key persistence story.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/replicanet/agent/agent"
	"github.com/replicanet/agent/hashtree"
	"github.com/replicanet/agent/identity"
	applog "github.com/replicanet/agent/log"
	"github.com/replicanet/agent/principal"
	"github.com/replicanet/agent/transport"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v0.2.0 -X main.commit=abc1234"
var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	app := &cli.App{
		Name:    "agentctl",
		Usage:   "drive call/query/read-state requests against an IC-style replica",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "replica", Value: "http://127.0.0.1:8080", Usage: "replica base URL"},
			&cli.StringFlag{Name: "root-key", Usage: "hex-encoded 96-byte BLS12-381 root public key"},
			&cli.IntFlag{Name: "retries", Value: agent.DefaultRetryTimes, Usage: "transient-error retry count"},
			&cli.BoolFlag{Name: "verbose", Usage: "enable debug logging"},
		},
		Before: func(c *cli.Context) error {
			level := slog.LevelInfo
			if c.Bool("verbose") {
				level = slog.LevelDebug
			}
			applog.SetDefault(applog.New(level))
			return nil
		},
		Commands: []*cli.Command{
			callCommand(),
			queryCommand(),
			readStateCommand(),
			identityCommand(),
		},
	}

	if err := app.Run(args); err != nil {
		fmt.Fprintln(os.Stderr, "agentctl:", err)
		return 1
	}
	return 0
}

func callCommand() *cli.Command {
	return &cli.Command{
		Name:  "call",
		Usage: "submit an update call and wait for its certified reply",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "canister", Required: true, Usage: "hex-encoded canister principal"},
			&cli.StringFlag{Name: "method", Required: true, Usage: "method name"},
			&cli.StringFlag{Name: "arg", Usage: "hex-encoded argument bytes"},
			&cli.StringFlag{Name: "identity-seed", Usage: "hex-encoded 32-byte ed25519 seed (random if omitted)"},
		},
		Action: func(c *cli.Context) error {
			eng, canisterID, err := buildEngine(c, true)
			if err != nil {
				return err
			}
			arg, err := decodeHexFlag(c, "arg")
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			res, err := eng.Call(ctx, canisterID, c.String("method"), arg)
			if err != nil {
				return fmt.Errorf("call: %w", err)
			}
			fmt.Printf("request id: %x\n", res.RequestID)
			replyPath := [][]byte{[]byte("request_status"), res.RequestID[:], []byte("reply")}
			if resKind, val, err := res.Certified.LookupPath(replyPath); err == nil && resKind == hashtree.Found {
				fmt.Printf("reply: %s\n", hex.EncodeToString(val))
			} else {
				fmt.Println("reply: (no /reply path in certificate)")
			}
			return nil
		},
	}
}

func queryCommand() *cli.Command {
	return &cli.Command{
		Name:  "query",
		Usage: "submit a query call and verify its node signatures",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "canister", Required: true, Usage: "hex-encoded canister principal"},
			&cli.StringFlag{Name: "method", Required: true, Usage: "method name"},
			&cli.StringFlag{Name: "arg", Usage: "hex-encoded argument bytes"},
			&cli.StringFlag{Name: "identity-seed", Usage: "hex-encoded 32-byte ed25519 seed (random if omitted)"},
		},
		Action: func(c *cli.Context) error {
			eng, canisterID, err := buildEngine(c, true)
			if err != nil {
				return err
			}
			arg, err := decodeHexFlag(c, "arg")
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			reply, err := eng.Query(ctx, canisterID, c.String("method"), arg)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			fmt.Printf("status: %s\n", reply.Status)
			if len(reply.Reply) > 0 {
				fmt.Printf("reply: %s\n", hex.EncodeToString(reply.Reply))
			}
			if reply.RejectCode != 0 {
				fmt.Printf("reject code: %d, message: %s\n", reply.RejectCode, reply.RejectMessage)
			}
			return nil
		},
	}
}

func readStateCommand() *cli.Command {
	return &cli.Command{
		Name:  "read-state",
		Usage: "fetch and verify a certificate over one or more state-tree paths",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "canister", Required: true, Usage: "hex-encoded canister principal"},
			&cli.StringSliceFlag{Name: "path", Required: true, Usage: "slash-separated path, e.g. request_status/<hex>/status"},
		},
		Action: func(c *cli.Context) error {
			eng, canisterID, err := buildEngine(c, false)
			if err != nil {
				return err
			}

			paths, err := parsePaths(c.StringSlice("path"))
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			verified, err := eng.ReadState(ctx, canisterID, paths)
			if err != nil {
				return fmt.Errorf("read-state: %w", err)
			}
			for _, p := range paths {
				res, val, err := verified.LookupPath(p)
				fmt.Printf("%s: result=%v value=%s err=%v\n", joinPath(p), res, hex.EncodeToString(val), err)
			}
			return nil
		},
	}
}

func identityCommand() *cli.Command {
	return &cli.Command{
		Name:  "identity",
		Usage: "identity helpers",
		Subcommands: []*cli.Command{
			{
				Name:  "new",
				Usage: "generate a fresh ed25519 identity and print its seed and principal",
				Action: func(c *cli.Context) error {
					id, seed, err := generateIdentity()
					if err != nil {
						return err
					}
					fmt.Printf("seed: %s\n", hex.EncodeToString(seed))
					fmt.Printf("principal: %s\n", id.Sender().String())
					return nil
				},
			},
		},
	}
}

func generateIdentity() (*identity.Ed25519Identity, []byte, error) {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, nil, fmt.Errorf("generate seed: %w", err)
	}
	id, err := identity.NewEd25519IdentityFromSeed(seed)
	if err != nil {
		return nil, nil, err
	}
	return id, seed, nil
}

func buildEngine(c *cli.Context, needsIdentity bool) (*agent.Engine, principal.Principal, error) {
	rootKeyHex := c.String("root-key")
	rootKey, err := hex.DecodeString(rootKeyHex)
	if err != nil {
		return nil, principal.Principal{}, fmt.Errorf("invalid --root-key: %w", err)
	}
	if len(rootKey) != 96 {
		return nil, principal.Principal{}, fmt.Errorf("--root-key must decode to 96 bytes, got %d", len(rootKey))
	}
	var rootKeyArr [96]byte
	copy(rootKeyArr[:], rootKey)

	canisterRaw, err := hex.DecodeString(c.String("canister"))
	if err != nil {
		return nil, principal.Principal{}, fmt.Errorf("invalid --canister: %w", err)
	}
	canisterID := principal.FromRaw(canisterRaw)

	opts := agent.DefaultOptions()
	opts.Transport = transport.New(c.String("replica"), nil)
	opts.RootPublicKey = rootKeyArr
	opts.RetryTimes = c.Int("retries")
	opts.WellKnownCanister = canisterID

	if needsIdentity {
		seedHex := c.String("identity-seed")
		if seedHex == "" {
			id, err := identity.GenerateEd25519Identity()
			if err != nil {
				return nil, principal.Principal{}, fmt.Errorf("generate identity: %w", err)
			}
			opts.Identity = id
		} else {
			seed, err := hex.DecodeString(seedHex)
			if err != nil {
				return nil, principal.Principal{}, fmt.Errorf("invalid --identity-seed: %w", err)
			}
			id, err := identity.NewEd25519IdentityFromSeed(seed)
			if err != nil {
				return nil, principal.Principal{}, fmt.Errorf("load identity: %w", err)
			}
			opts.Identity = id
		}
	}

	eng, err := agent.New(opts)
	if err != nil {
		return nil, principal.Principal{}, fmt.Errorf("construct engine: %w", err)
	}
	return eng, canisterID, nil
}

func decodeHexFlag(c *cli.Context, name string) ([]byte, error) {
	v := c.String(name)
	if v == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return b, nil
}

// parsePaths turns a slice of slash-separated path strings into the
// [][]byte segments ReadState expects. A segment wrapped in "0x...." is
// decoded as hex (for binary segments like a request id); any other
// segment is used as literal UTF-8 bytes.
func parsePaths(raw []string) ([][][]byte, error) {
	paths := make([][][]byte, 0, len(raw))
	for _, p := range raw {
		var segs [][]byte
		for _, part := range strings.Split(p, "/") {
			if part == "" {
				continue
			}
			if strings.HasPrefix(part, "0x") {
				b, err := hex.DecodeString(part[2:])
				if err != nil {
					return nil, fmt.Errorf("invalid hex path segment %q: %w", part, err)
				}
				segs = append(segs, b)
				continue
			}
			segs = append(segs, []byte(part))
		}
		paths = append(paths, segs)
	}
	return paths, nil
}

func joinPath(path [][]byte) string {
	parts := make([]string, len(path))
	for i, seg := range path {
		if isPrintable(seg) {
			parts[i] = string(seg)
		} else {
			parts[i] = "0x" + hex.EncodeToString(seg)
		}
	}
	return strings.Join(parts, "/")
}

func isPrintable(b []byte) bool {
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}
