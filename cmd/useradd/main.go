// useradd provisions a FileCove account: it appends the credential
// record to the users file and creates the account's storage area.
//
// The server loads credentials at startup, so restart it after adding
// accounts.
package main

import (
	"errors"
	"flag"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/filecove/filecove/internal/config"
	"github.com/filecove/filecove/internal/credstore"
	"github.com/filecove/filecove/internal/logging"
	"github.com/filecove/filecove/internal/sanitize"
)

func main() {
	usersFile := flag.String("users", "users.csv", "Credential file to append to")
	storageDir := flag.String("storage", "", "Storage root holding the per-account areas (skipped when empty)")
	name := flag.String("name", "", "Account name")
	password := flag.String("password", "", "Account password")
	flag.Parse()

	// Initialize logging
	if err := logging.Init(logging.Config{Level: "info", Format: "console"}); err != nil {
		panic("logging init: " + err.Error())
	}
	defer logging.Sync()

	if *name == "" || *password == "" {
		logging.Fatal("both -name and -password are required")
	}

	// The account name doubles as its top-level directory name.
	san := sanitize.New(config.DefaultWhitelist, 64)
	if cleaned := san.DirectoryName(*name); cleaned != *name {
		logging.Fatal("account name not usable as a directory name",
			zap.String("name", *name),
			zap.String("usable", cleaned))
	}
	if *name == "tmp" {
		logging.Fatal("account name is reserved for the temp area")
	}

	creds, err := credstore.Load(*usersFile)
	if errors.Is(err, fs.ErrNotExist) {
		creds = &credstore.Store{}
	} else if err != nil {
		logging.Fatal("credential file unreadable", zap.Error(err))
	}
	if creds.HasUser(*name) {
		logging.Fatal("account already exists", zap.String("name", *name))
	}

	record := credstore.Digest(*password, *name) + ";" + *name + "\n"
	f, err := os.OpenFile(*usersFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		logging.Fatal("credential file open failed", zap.Error(err))
	}
	if _, err := f.WriteString(record); err != nil {
		f.Close()
		logging.Fatal("credential record write failed", zap.Error(err))
	}
	if err := f.Close(); err != nil {
		logging.Fatal("credential record write failed", zap.Error(err))
	}
	logging.Info("credential recorded", zap.String("name", *name), zap.String("users", *usersFile))

	if *storageDir != "" {
		home := filepath.Join(*storageDir, *name)
		if err := os.MkdirAll(home, 0o755); err != nil {
			logging.Fatal("storage area create failed", zap.Error(err))
		}
		logging.Info("storage area ready", zap.String("dir", home))
	}
}
