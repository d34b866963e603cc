package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"
	"time"

	"swapcore/cmd/internal/passphrase"
	protocolconfig "swapcore/config"
	"swapcore/crypto"
	"swapcore/native/htlc"
	swapdconfig "swapcore/services/swapd/config"
	"swapcore/services/swapd/server"
)

const (
	defaultPassEnv   = "SWAPCORE_KEYSTORE_PASS"
	defaultSecretEnv = "SWAPD_JWT_SECRET"
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(1)
	}
	var err error
	switch os.Args[1] {
	case "keygen":
		err = runKeygen(os.Args[2:], os.Stdout)
	case "address":
		err = runAddress(os.Args[2:], os.Stdout)
	case "hashlock":
		err = runHashlock(os.Args[2:], os.Stdout)
	case "swap-key":
		err = runSwapKey(os.Args[2:], os.Stdout)
	case "token":
		err = runToken(os.Args[2:], os.Stdout)
	case "check-config":
		err = runCheckConfig(os.Args[2:], os.Stdout)
	case "help", "-h", "--help":
		usage(os.Stdout)
		return
	default:
		usage(os.Stderr)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: swapctl <command> [flags]")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  keygen        create an encrypted operator keystore")
	fmt.Fprintln(w, "  address       print the identity held in a keystore")
	fmt.Fprintln(w, "  hashlock      generate a swap secret and its SHA-256 hashlock")
	fmt.Fprintln(w, "  swap-key      preview the ledger key for swap terms")
	fmt.Fprintln(w, "  token         mint a swapd bearer token for an identity")
	fmt.Fprintln(w, "  check-config  validate protocol and swapd configuration files")
}

func runKeygen(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	path := fs.String("out", "operator.keystore", "Output path for the keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	force := fs.Bool("force", false, "Overwrite an existing keystore file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := os.Stat(*path); err == nil && !*force {
		return fmt.Errorf("keystore %s already exists; use -force to overwrite", *path)
	}
	pass, err := passphrase.NewSource(*passEnv, "keystore passphrase").Get()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if err := crypto.SaveToKeystore(*path, key, pass); err != nil {
		return fmt.Errorf("write keystore: %w", err)
	}
	fmt.Fprintf(out, "Keystore: %s\nAddress:  %s\n", *path, key.PubKey().Address().String())
	return nil
}

func runAddress(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("address", flag.ContinueOnError)
	path := fs.String("keystore", "operator.keystore", "Keystore file to read")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pass, err := passphrase.NewSource(*passEnv, "keystore passphrase").Get()
	if err != nil {
		return err
	}
	key, err := crypto.LoadFromKeystore(*path, pass)
	if err != nil {
		return fmt.Errorf("open keystore: %w", err)
	}
	addr := key.PubKey().Address()
	fmt.Fprintf(out, "%s\n0x%s\n", addr.String(), hex.EncodeToString(addr.Bytes()))
	return nil
}

func runHashlock(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("hashlock", flag.ContinueOnError)
	secretHex := fs.String("secret", "", "Hex secret to commit to; a random 32-byte secret is generated when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}
	secret, err := resolveSecret(*secretHex)
	if err != nil {
		return err
	}
	hashlock := crypto.HashSecret(secret)
	fmt.Fprintf(out, "secret:   %s\nhashlock: %s\n", hex.EncodeToString(secret), crypto.HexKey(hashlock))
	return nil
}

func resolveSecret(raw string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if trimmed == "" {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}
		return secret, nil
	}
	secret, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("decode secret: %w", err)
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("secret must not be empty")
	}
	return secret, nil
}

func runSwapKey(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("swap-key", flag.ContinueOnError)
	initiator := fs.String("initiator", "", "Initiator identity (bech32 or 0x hex)")
	recipient := fs.String("recipient", "", "Recipient identity (bech32 or 0x hex)")
	fromAsset := fs.String("from", "", "Locked asset")
	toAsset := fs.String("to", "", "Counter asset")
	fromAmount := fs.String("from-amount", "", "Gross locked amount in base units")
	toAmount := fs.String("to-amount", "", "Counter amount in base units")
	hashlock := fs.String("hashlock", "", "32-byte hashlock in hex")
	expiry := fs.Int64("expiry", 0, "Expiry as unix seconds")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := previewSwapKey(*initiator, *recipient, *fromAsset, *toAsset, *fromAmount, *toAmount, *hashlock, *expiry)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, crypto.HexKey(key))
	return nil
}

func previewSwapKey(initiator, recipient, fromAsset, toAsset, fromAmount, toAmount, hashlock string, expiry int64) ([32]byte, error) {
	from, err := crypto.ParseIdentity(initiator)
	if err != nil {
		return [32]byte{}, fmt.Errorf("initiator: %w", err)
	}
	req := htlc.InitiateRequest{FromAsset: fromAsset, ToAsset: toAsset, Expiry: expiry}
	if req.Recipient, err = crypto.ParseIdentity(recipient); err != nil {
		return [32]byte{}, fmt.Errorf("recipient: %w", err)
	}
	if req.FromAmount, err = parseAmount("from-amount", fromAmount); err != nil {
		return [32]byte{}, err
	}
	if req.ToAmount, err = parseAmount("to-amount", toAmount); err != nil {
		return [32]byte{}, err
	}
	if req.Hashlock, err = crypto.ParseHexKey(hashlock); err != nil {
		return [32]byte{}, fmt.Errorf("hashlock: %w", err)
	}
	return htlc.SwapKey(from, req)
}

func parseAmount(field, raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || value.Sign() <= 0 {
		return nil, fmt.Errorf("%s must be a positive base-10 integer", field)
	}
	return value, nil
}

func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	subject := fs.String("sub", "", "Identity the token speaks for (bech32 or 0x hex)")
	issuer := fs.String("issuer", "swapd", "Token issuer")
	audience := fs.String("audience", "", "Token audience")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	secretEnv := fs.String("secret-env", defaultSecretEnv, "Environment variable containing the signing secret")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := crypto.ParseIdentity(*subject)
	if err != nil {
		return fmt.Errorf("sub: %w", err)
	}
	secret, err := passphrase.NewSource(*secretEnv, "token signing secret").Get()
	if err != nil {
		return err
	}
	token, err := server.MintToken(secret, *issuer, *audience, id, *ttl, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

func runCheckConfig(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("check-config", flag.ContinueOnError)
	protocolPath := fs.String("protocol", "", "Protocol TOML configuration")
	swapdPath := fs.String("swapd", "", "swapd YAML configuration")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *protocolPath == "" && *swapdPath == "" {
		return fmt.Errorf("nothing to check; pass -protocol and/or -swapd")
	}
	if *swapdPath != "" {
		cfg, err := swapdconfig.Load(*swapdPath)
		if err != nil {
			return fmt.Errorf("swapd config: %w", err)
		}
		fmt.Fprintf(out, "swapd: listen=%s archive=%s feeder=%t\n", cfg.ListenAddress, cfg.Archive.DSN, cfg.Feeder.Enabled)
		if *protocolPath == "" {
			*protocolPath = cfg.ProtocolPath
		}
	}
	if *protocolPath != "" {
		if _, err := os.Stat(*protocolPath); err != nil {
			return fmt.Errorf("protocol config: %w", err)
		}
		cfg, err := protocolconfig.Load(*protocolPath)
		if err != nil {
			return fmt.Errorf("protocol config: %w", err)
		}
		fmt.Fprintf(out, "protocol: backend=%s admin=%s assets=%d allocations=%d\n", cfg.Backend, cfg.Admin, len(cfg.Assets), len(cfg.Genesis))
	}
	return nil
}
