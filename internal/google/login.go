package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
)

// Login runs the interactive OAuth flow: it prints the consent URL, receives
// the authorization code on a local callback server, exchanges it for a
// token, and persists the token for future syncs.
func (c *Client) Login(ctx context.Context) error {
	state := fmt.Sprintf("calsnap-%d", time.Now().UTC().UnixNano())
	authURL := c.oauthCfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintf(os.Stdout, "\nOpen the following link in your browser:\n%s\n", authURL)

	mux := http.NewServeMux()
	server := &http.Server{Addr: ":8080", Handler: mux}

	var (
		token   *oauth2.Token
		authErr error
	)
	mux.HandleFunc("/callback", func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			go server.Shutdown(ctx)
		}()

		query := req.URL.Query()
		if query.Get("state") != state {
			authErr = errors.New("oauth state mismatch")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		token, authErr = c.oauthCfg.Exchange(req.Context(), query.Get("code"))
		if authErr != nil {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintln(w, "Unable to retrieve token:", authErr)
			return
		}

		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "All good, you can close this window!")
	})

	done := make(chan struct{})
	var srvErr error
	go func() {
		srvErr = server.ListenAndServe()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		_ = server.Shutdown(context.Background())
		<-done
		return ctx.Err()
	}

	if srvErr != nil && !errors.Is(srvErr, http.ErrServerClosed) {
		return srvErr
	}
	if authErr != nil {
		return authErr
	}
	if token == nil {
		return errors.New("login aborted before a token was received")
	}

	if err := c.SaveToken(token); err != nil {
		return err
	}
	c.log.Info("Google token saved", "path", c.tokenFile)
	return nil
}
