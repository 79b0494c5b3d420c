package mail

import (
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/emersion/go-imap/client"
)

// loginRetries is how many times a failed login is reattempted. Mailbox
// providers intermittently refuse logins under load, so the first failures
// are retried with a fixed gap before the run is declared dead.
const loginRetries = 2

var loginRetryInterval = 10 * time.Second

// Connect dials the IMAP server with a 5-second timeout.
// useTLS: true for production, false for the in-memory test server.
func Connect(server string, useTLS bool) (*client.Client, error) {
	dialer := &net.Dialer{
		Timeout: 5 * time.Second,
	}

	if useTLS {
		c, err := client.DialWithDialerTLS(dialer, server, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to dial with TLS: %w", err)
		}
		return c, nil
	}

	c, err := client.DialWithDialer(dialer, server)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	return c, nil
}

// Login authenticates with the IMAP server, retrying transient refusals.
func Login(c *client.Client, username, password string) error {
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(loginRetryInterval), loginRetries)

	err := backoff.Retry(func() error {
		return c.Login(username, password)
	}, policy)
	if err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}

	return nil
}
