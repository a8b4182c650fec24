package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/evsdk/pkg/license"
)

// Issues licenses for ji.SDK.Init.
// evlicense keygen prints a new key pair. evlicense sign prints a license.

func check(err error) {
	if err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}
}

func main() {
	parser := argparse.NewParser("evlicense", "Create keys and licenses for the SDK")
	keygen := parser.NewCommand("keygen", "Print a new base64 encoded key pair")
	sign := parser.NewCommand("sign", "Print a license")
	privateKey := sign.String("k", "key", &argparse.Options{Help: "Base64 encoded private key, from keygen", Required: true})
	days := sign.Int("d", "days", &argparse.Options{Help: "License duration in days. 0 = no expiry", Required: false, Default: 365})
	qps := sign.Int("q", "qps", &argparse.Options{Help: "Maximum calls per second. 0 = unlimited", Required: false, Default: 0})
	version := sign.Int("v", "version", &argparse.Options{Help: "SDK version. 0 = any", Required: false, Default: 0})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	if keygen.Happened() {
		pub, priv, err := ed25519.GenerateKey(nil)
		check(err)
		fmt.Printf("public:  %v\n", base64.StdEncoding.EncodeToString(pub))
		fmt.Printf("private: %v\n", base64.StdEncoding.EncodeToString(priv))
		return
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(*privateKey))
	check(err)
	if len(raw) != ed25519.PrivateKeySize {
		check(fmt.Errorf("Private key must be %v bytes, not %v", ed25519.PrivateKeySize, len(raw)))
	}
	grant := license.Grant{
		MaxQPS:  *qps,
		Version: *version,
	}
	if *days > 0 {
		grant.Expires = time.Now().UTC().Add(time.Duration(*days) * 24 * time.Hour).Truncate(time.Second)
	}
	lic, err := license.Sign(ed25519.PrivateKey(raw), grant)
	check(err)
	fmt.Printf("%v\n", lic)
}
