package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/ipfs/go-cid"

	"xdao.co/labeler/archive/localfs"
	"xdao.co/labeler/grpclabels"
	"xdao.co/labeler/keys"
	"xdao.co/labeler/label"
	"xdao.co/labeler/model"
	"xdao.co/labeler/store"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printUsage(errOut)
		return 2
	}

	switch args[0] {
	case "key":
		return cmdKey(args[1:], out, errOut)
	case "sign":
		return cmdSign(args[1:], out, errOut)
	case "verify":
		return cmdVerify(args[1:], out, errOut)
	case "cid":
		return cmdCID(args[1:], out, errOut)
	case "archive":
		return cmdArchive(args[1:], out, errOut)
	case "query":
		return cmdQuery(args[1:], out, errOut)
	case "tail":
		return cmdTail(args[1:], out, errOut)
	case "help", "-h", "--help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n\n", args[0])
		printUsage(errOut)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "xdao-labeler: label signing and inspection CLI")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  xdao-labeler key init --name <name> [--alg secp256k1|ed25519|dilithium3] [--secret-hex <64hex>] [--force]")
	fmt.Fprintln(w, "  xdao-labeler key derive --from <name> --role <role> [--force]")
	fmt.Fprintln(w, "  xdao-labeler key list")
	fmt.Fprintln(w, "  xdao-labeler key export --name <name> [--role <role>]")
	fmt.Fprintln(w, "  xdao-labeler sign --issuer <did> --uri <uri> --val <val> [--cid <cid>] [--neg] (--secret-hex <64hex> [--alg <alg>] | --signer <name> [--signer-role <role>] | --key-file <path>)")
	fmt.Fprintln(w, "  xdao-labeler verify --key <public key> <label.json>")
	fmt.Fprintln(w, "  xdao-labeler cid <label.json>")
	fmt.Fprintln(w, "  xdao-labeler archive put --dir <dir> <label.json>")
	fmt.Fprintln(w, "  xdao-labeler archive get --dir <dir> <cid>")
	fmt.Fprintln(w, "  xdao-labeler query --grpc <addr> --pattern <uri pattern> [--pattern ...] [--source <did> ...] [--cursor <n>] [--limit <n>]")
	fmt.Fprintln(w, "  xdao-labeler tail (--url <http base> | --grpc <addr>) [--cursor <n>]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  - secrets are 32 bytes (64 hex chars); secp256k1 is the default algorithm")
	fmt.Fprintln(w, "  - KMS-lite stores keys under ~/.xdao/labeler/keys/<name> (0600 key files)")
	fmt.Fprintln(w, "  - sign writes the signed label as JSON to stdout")
	fmt.Fprintln(w, "  - public keys are printed and accepted as did:key when the algorithm has a multicodec")
}

type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func cmdKey(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printKeyUsage(errOut)
		return 2
	}
	switch args[0] {
	case "init":
		return cmdKeyInit(args[1:], out, errOut)
	case "derive":
		return cmdKeyDerive(args[1:], out, errOut)
	case "list":
		return cmdKeyList(args[1:], out, errOut)
	case "export":
		return cmdKeyExport(args[1:], out, errOut)
	case "help", "-h", "--help":
		printKeyUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown key subcommand: %s\n\n", args[0])
		printKeyUsage(errOut)
		return 2
	}
}

func printKeyUsage(w io.Writer) {
	fmt.Fprintln(w, "xdao-labeler key: minimal local key management (KMS-lite)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  xdao-labeler key init --name <name> [--alg <alg>] [--secret-hex <64hex>] [--force]")
	fmt.Fprintln(w, "  xdao-labeler key derive --from <name> --role <role> [--force]")
	fmt.Fprintln(w, "  xdao-labeler key list")
	fmt.Fprintln(w, "  xdao-labeler key export --name <name> [--role <role>]")
}

// keyStoreDir is overridable for tests.
var keyStoreDir = ""

func cmdKeyInit(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("key init", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var name string
	var algName string
	var secretHex string
	var force bool

	fs.StringVar(&name, "name", "", "Key name (directory under the key store)")
	fs.StringVar(&algName, "alg", "secp256k1", "Signature algorithm")
	fs.StringVar(&secretHex, "secret-hex", "", "Optional secret as 64 hex chars (for reproducible demos)")
	fs.BoolVar(&force, "force", false, "Overwrite existing key files")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if name == "" {
		fmt.Fprintln(errOut, "missing --name")
		return 2
	}
	if err := keys.CheckKeyName(name); err != nil {
		fmt.Fprintf(errOut, "invalid --name: %v\n", err)
		return 2
	}
	alg, err := keys.ParseAlgorithm(algName)
	if err != nil {
		fmt.Fprintf(errOut, "invalid --alg: %v\n", err)
		return 2
	}
	ks, err := keys.CreateKeyStore(keyStoreDir)
	if err != nil {
		fmt.Fprintf(errOut, "keys: %v\n", err)
		return 1
	}

	var secret []byte
	if secretHex != "" {
		secret, err = keys.ParseSecretHex(secretHex)
		if err != nil {
			fmt.Fprintf(errOut, "invalid --secret-hex: %v\n", err)
			return 2
		}
	} else {
		_, secret, err = keys.GenerateKey(alg, rand.Reader)
		if err != nil {
			fmt.Fprintf(errOut, "generate key: %v\n", err)
			return 1
		}
	}

	pub, path, err := ks.InitializeRootKey(name, alg, secret, force)
	if err != nil {
		fmt.Fprintf(errOut, "write key: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "Created root key: %s\n", pub)
	fmt.Fprintf(out, "Stored at: %s\n", path)
	return 0
}

func cmdKeyDerive(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("key derive", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var from string
	var role string
	var force bool

	fs.StringVar(&from, "from", "", "Root key name")
	fs.StringVar(&role, "role", "", "Role identifier (e.g. emitter, reviewer)")
	fs.BoolVar(&force, "force", false, "Overwrite existing key files")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if from == "" || role == "" {
		fmt.Fprintln(errOut, "missing --from or --role")
		return 2
	}
	if err := keys.CheckRole(role); err != nil {
		fmt.Fprintf(errOut, "invalid --role: %v\n", err)
		return 2
	}
	ks, err := keys.CreateKeyStore(keyStoreDir)
	if err != nil {
		fmt.Fprintf(errOut, "keys: %v\n", err)
		return 1
	}
	pub, path, err := ks.DeriveKeyFromRole(from, role, force)
	if err != nil {
		fmt.Fprintf(errOut, "derive role key: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "Created role key: %s\n", pub)
	fmt.Fprintf(out, "Stored at: %s\n", path)
	return 0
}

func cmdKeyExport(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("key export", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var name string
	var role string

	fs.StringVar(&name, "name", "", "Key name")
	fs.StringVar(&role, "role", "", "Optional role (if set, exports derived role key)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if name == "" {
		fmt.Fprintln(errOut, "missing --name")
		return 2
	}
	ks, err := keys.CreateKeyStore(keyStoreDir)
	if err != nil {
		fmt.Fprintf(errOut, "keys: %v\n", err)
		return 1
	}
	k, err := ks.Load(name, role)
	if err != nil {
		fmt.Fprintf(errOut, "export key: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(out, k.Public())
	return 0
}

func cmdKeyList(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("key list", flag.ContinueOnError)
	fs.SetOutput(errOut)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	ks, err := keys.CreateKeyStore(keyStoreDir)
	if err != nil {
		fmt.Fprintf(errOut, "keys: %v\n", err)
		return 1
	}
	entries, err := ks.ListKeys()
	if err != nil {
		fmt.Fprintf(errOut, "list keys: %v\n", err)
		return 1
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s (%s)\n", e.Identifier, e.Algorithm)
		for _, r := range e.Roles {
			fmt.Fprintf(out, "  - %s\n", r)
		}
	}
	return 0
}

func cmdSign(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var issuer, uri, val, contentCID string
	var neg bool
	var algName, secretHex, signerName, signerRole, keyFile string

	fs.StringVar(&issuer, "issuer", "", "Labeler DID written into src")
	fs.StringVar(&uri, "uri", "", "Target URI")
	fs.StringVar(&val, "val", "", "Label value")
	fs.StringVar(&contentCID, "cid", "", "Optional content CID pin")
	fs.BoolVar(&neg, "neg", false, "Emit a negation")
	fs.StringVar(&algName, "alg", "secp256k1", "Algorithm for --secret-hex")
	fs.StringVar(&secretHex, "secret-hex", "", "Signing secret as 64 hex chars")
	fs.StringVar(&signerName, "signer", "", "Key name in the key store")
	fs.StringVar(&signerRole, "signer-role", "", "Optional role key under --signer")
	fs.StringVar(&keyFile, "key-file", "", "Path to a key file")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if issuer == "" || uri == "" || val == "" {
		fmt.Fprintln(errOut, "missing --issuer, --uri or --val")
		return 2
	}
	alg, err := keys.ParseAlgorithm(algName)
	if err != nil {
		fmt.Fprintf(errOut, "invalid --alg: %v\n", err)
		return 2
	}
	ks, err := keys.CreateKeyStore(keyStoreDir)
	if err != nil {
		fmt.Fprintf(errOut, "keys: %v\n", err)
		return 1
	}
	k, err := ks.LoadSigner(alg, secretHex, keyFile, signerName, signerRole)
	if err != nil {
		fmt.Fprintf(errOut, "load signer: %v\n", err)
		return 2
	}
	signer, err := label.NewSigner(issuer, k)
	if err != nil {
		fmt.Fprintf(errOut, "signer: %v\n", err)
		return 1
	}

	l := label.New(uri, val)
	if contentCID != "" {
		l = l.WithCID(contentCID)
	}
	if neg {
		l = l.Negated()
	}
	signed, err := signer.Sign(l)
	if err != nil {
		fmt.Fprintf(errOut, "sign: %v\n", err)
		return 1
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(signed); err != nil {
		fmt.Fprintf(errOut, "encode: %v\n", err)
		return 1
	}
	return 0
}

func readLabel(path string) (label.Label, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return label.Label{}, err
	}
	var l label.Label
	if err := json.Unmarshal(b, &l); err != nil {
		return label.Label{}, err
	}
	return l, nil
}

func cmdVerify(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var pubStr string
	fs.StringVar(&pubStr, "key", "", "Public key (did:key or <alg>:<base64>)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if pubStr == "" || fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: xdao-labeler verify --key <public key> <label.json>")
		return 2
	}
	pub, err := keys.ParsePublicKey(pubStr)
	if err != nil {
		fmt.Fprintf(errOut, "invalid --key: %v\n", err)
		return 2
	}
	l, err := readLabel(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "read label: %v\n", err)
		return 1
	}
	if err := l.Verify(pub); err != nil {
		fmt.Fprintf(errOut, "invalid: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(out, "OK")
	return 0
}

func cmdCID(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("cid", flag.ContinueOnError)
	fs.SetOutput(errOut)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: xdao-labeler cid <label.json>")
		return 2
	}
	l, err := readLabel(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "read label: %v\n", err)
		return 1
	}
	id, err := l.RecordCID()
	if err != nil {
		fmt.Fprintf(errOut, "cid: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(out, id)
	return 0
}

func cmdArchive(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "usage: xdao-labeler archive <subcommand> ...")
		fmt.Fprintln(errOut, "subcommands: put, get")
		return 2
	}
	fs := flag.NewFlagSet("archive "+args[0], flag.ContinueOnError)
	fs.SetOutput(errOut)
	var dir string
	fs.StringVar(&dir, "dir", "", "Archive directory")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}
	if dir == "" || fs.NArg() != 1 {
		fmt.Fprintf(errOut, "usage: xdao-labeler archive %s --dir <dir> <arg>\n", args[0])
		return 2
	}
	a, err := localfs.New(dir)
	if err != nil {
		fmt.Fprintf(errOut, "archive: %v\n", err)
		return 1
	}

	switch args[0] {
	case "put":
		l, err := readLabel(fs.Arg(0))
		if err != nil {
			fmt.Fprintf(errOut, "read label: %v\n", err)
			return 1
		}
		id, err := a.Put(l)
		if err != nil {
			fmt.Fprintf(errOut, "put: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintln(out, id)
		return 0
	case "get":
		id, err := cid.Decode(fs.Arg(0))
		if err != nil {
			fmt.Fprintf(errOut, "invalid cid: %v\n", err)
			return 2
		}
		l, err := a.Get(id)
		if err != nil {
			fmt.Fprintf(errOut, "get: %v\n", err)
			return 1
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		_ = enc.Encode(l)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown archive subcommand: %s\n", args[0])
		return 2
	}
}

func cmdQuery(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var addr string
	var patterns, sources stringList
	var cursor int64
	var limit int

	fs.StringVar(&addr, "grpc", "127.0.0.1:7778", "Labeler gRPC address")
	fs.Var(&patterns, "pattern", "URI pattern, '*' matches any substring (repeatable)")
	fs.Var(&sources, "source", "Restrict to issuer DID (repeatable)")
	fs.Int64Var(&cursor, "cursor", 0, "Start after this seq")
	fs.IntVar(&limit, "limit", store.DefaultLimit, "Page size")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if len(patterns) == 0 {
		fmt.Fprintln(errOut, "missing --pattern")
		return 2
	}
	c, err := grpclabels.Dial(addr, grpclabels.DialOptions{Timeout: 5 * time.Second})
	if err != nil {
		fmt.Fprintf(errOut, "dial: %v\n", err)
		return 1
	}
	defer c.Close()
	c.Timeout = 10 * time.Second

	page, err := c.Query(context.Background(), store.Query{Patterns: patterns, Sources: sources, Cursor: cursor, Limit: limit})
	if err != nil {
		fmt.Fprintf(errOut, "query: %v\n", err)
		return 1
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(page)
	return 0
}

func cmdTail(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("tail", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var baseURL, addr string
	var cursor int64

	fs.StringVar(&baseURL, "url", "", "Labeler HTTP base URL (subscribes over WebSocket)")
	fs.StringVar(&addr, "grpc", "", "Labeler gRPC address")
	fs.Int64Var(&cursor, "cursor", -1, "Replay after this seq; negative streams new labels only")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if (baseURL == "") == (addr == "") {
		fmt.Fprintln(errOut, "exactly one of --url or --grpc is required")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	enc := json.NewEncoder(out)
	emit := func(m model.SubscribeMessage) error { return enc.Encode(m) }

	var err error
	if baseURL != "" {
		err = tailWebSocket(ctx, baseURL, cursor, emit)
	} else {
		err = tailGRPC(ctx, addr, cursor, emit)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(errOut, "tail: %v\n", err)
		return 1
	}
	return 0
}

func tailWebSocket(ctx context.Context, baseURL string, cursor int64, fn func(model.SubscribeMessage) error) error {
	u := strings.TrimSuffix(baseURL, "/")
	u = strings.Replace(u, "http", "ws", 1) + "/xrpc/com.atproto.label.subscribeLabels"
	if cursor >= 0 {
		u += fmt.Sprintf("?cursor=%d", cursor)
	}
	conn, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		return err
	}
	defer conn.CloseNow()
	for {
		var msg model.SubscribeMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return err
		}
		if err := fn(msg); err != nil {
			return err
		}
	}
}

func tailGRPC(ctx context.Context, addr string, cursor int64, fn func(model.SubscribeMessage) error) error {
	c, err := grpclabels.Dial(addr, grpclabels.DialOptions{Timeout: 5 * time.Second})
	if err != nil {
		return err
	}
	defer c.Close()
	if cursor < 0 {
		cursor = grpclabels.LiveOnly
	}
	return c.Subscribe(ctx, cursor, fn)
}
