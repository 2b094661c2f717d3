// Command localshare wires the dispatcher engine to a TCP listener.
// Flag/config-file parsing, TLS termination, and shell-completion
// generation are deliberately out of scope; this is a minimal
// reference entrypoint, not a full CLI.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/localshare/localshare/internal/access"
	"github.com/localshare/localshare/internal/auth"
	"github.com/localshare/localshare/internal/config"
	"github.com/localshare/localshare/internal/dispatch"
)

func main() {
	var (
		addr         = flag.String("addr", "127.0.0.1:5000", "listen address")
		root         = flag.String("path", ".", "directory to serve")
		allowUpload  = flag.Bool("allow-upload", false, "allow PUT/PATCH uploads")
		allowDelete  = flag.Bool("allow-delete", false, "allow DELETE and overwrite")
		allowSearch  = flag.Bool("allow-search", true, "allow ?q= search")
		allowArchive = flag.Bool("allow-archive", true, "allow ?zip= download")
		enableCORS   = flag.Bool("cors", false, "send permissive CORS headers")
		authRule     = flag.String("auth", "", "access rule, e.g. \"alice:secret@/:rw\"")
	)
	flag.Parse()

	absRoot, err := filepath.Abs(*root)
	if err != nil {
		fmt.Fprintln(os.Stderr, "localshare:", err)
		os.Exit(1)
	}

	var rules []string
	if *authRule != "" {
		rules = []string{*authRule}
	}
	ctrl, err := access.Build(rules)
	if err != nil {
		fmt.Fprintln(os.Stderr, "localshare: parsing access rules:", err)
		os.Exit(1)
	}

	cfg := config.New(
		absRoot, false, "", nil, ctrl, config.CompressionLow,
		config.Features{
			AllowUpload:  *allowUpload,
			AllowDelete:  *allowDelete,
			AllowSearch:  *allowSearch,
			AllowArchive: *allowArchive,
			EnableCORS:   *enableCORS,
			RenderIndex:  true,
		},
		"", "", "1",
	)

	lookup := func(user string) (string, bool, bool) {
		u, ok := ctrl.Users[user]
		if !ok {
			return "", false, false
		}
		return u.Credential.Raw, u.Credential.Hashed, true
	}
	authenticator := auth.New(lookup, ctrl.UseHashedPassword)

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	running := true
	engine := dispatch.New(cfg, authenticator, logger, func() bool { return running })

	logger.WithField("addr", *addr).Info("serving")
	if err := http.ListenAndServe(*addr, dispatch.Router(engine)); err != nil {
		logger.WithError(err).Fatal("server exited")
	}
}
