package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"contentpay/cmd/internal/passphrase"
	"contentpay/crypto"
	"contentpay/services/settled"
)

const (
	keygenCommand  = "keygen"
	addressCommand = "address"
	signCommand    = "sign"
	defaultPassEnv = "CONTENTPAY_KEYSTORE_PASS"

	newKeyPrompt    = "Choose a passphrase for the new payer keystore: "
	unlockKeyPrompt = "Enter payer keystore passphrase: "
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case keygenCommand:
		err = runKeygen(os.Args[2:], os.Stdout)
	case addressCommand:
		err = runAddress(os.Args[2:], os.Stdout)
	case signCommand:
		err = runSign(os.Args[2:], os.Stdin, os.Stdout)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runKeygen(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(keygenCommand, flag.ContinueOnError)
	keystorePath := fs.String("keystore", "payer.keystore", "Output path for the generated keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	force := fs.Bool("force", false, "Overwrite an existing keystore file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := os.Stat(*keystorePath); err == nil && !*force {
		return fmt.Errorf("keystore %s already exists (use -force to overwrite)", *keystorePath)
	}
	pass, err := passphrase.NewSource(*passEnv).WithPrompt(newKeyPrompt).Get()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if err := crypto.SaveToKeystore(*keystorePath, key, pass); err != nil {
		return fmt.Errorf("write keystore: %w", err)
	}
	fmt.Fprintf(out, "%s\n", key.PubKey().Address().String())
	return nil
}

func runAddress(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(addressCommand, flag.ContinueOnError)
	keystorePath := fs.String("keystore", "payer.keystore", "Keystore file to read")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := loadKey(*keystorePath, *passEnv)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s\n", key.PubKey().Address().String())
	return nil
}

// runSign reads a purchase request as JSON, fills in the payer from the
// keystore and writes the signed request.
func runSign(args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet(signCommand, flag.ContinueOnError)
	keystorePath := fs.String("keystore", "payer.keystore", "Keystore file holding the payer key")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	requestPath := fs.String("request", "-", "Purchase request JSON file, or - for stdin")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var raw []byte
	var err error
	if *requestPath == "-" {
		raw, err = io.ReadAll(in)
	} else {
		raw, err = os.ReadFile(*requestPath)
	}
	if err != nil {
		return fmt.Errorf("read request: %w", err)
	}
	key, err := loadKey(*keystorePath, *passEnv)
	if err != nil {
		return err
	}
	signed, err := signRequest(raw, key)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(signed)
}

func signRequest(raw []byte, key *crypto.PrivateKey) (settled.PurchaseRequest, error) {
	var req settled.PurchaseRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, fmt.Errorf("decode request: %w", err)
	}
	payer := key.PubKey().Address().String()
	if existing := strings.TrimSpace(req.Payer); existing != "" && existing != payer {
		return req, fmt.Errorf("request payer %s does not match keystore address %s", existing, payer)
	}
	req.Payer = payer
	_, auth, err := req.Decode()
	if err != nil {
		return req, err
	}
	sig, err := key.Sign(auth.Digest())
	if err != nil {
		return req, fmt.Errorf("sign: %w", err)
	}
	req.Signature = "0x" + hex.EncodeToString(sig)
	return req, nil
}

func loadKey(path, passEnv string) (*crypto.PrivateKey, error) {
	pass, err := passphrase.NewSource(passEnv).WithPrompt(unlockKeyPrompt).Get()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return nil, fmt.Errorf("open keystore %s: %w", path, err)
	}
	return key, nil
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: settlectl <command> [flags]

Commands:
  %s    Generate a payer key and write it to an encrypted keystore
  %s   Print the account address of a keystore
  %s      Sign a purchase request read from -request (default stdin)
`, keygenCommand, addressCommand, signCommand)
}
