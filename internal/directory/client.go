package directory

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-ldap/ldap/v3"
	"go.uber.org/zap"

	"github.com/dfedez920912/tbot-project/internal/core/domain"
	"github.com/dfedez920912/tbot-project/internal/infra/config"
	"github.com/dfedez920912/tbot-project/internal/infra/logger"
	"github.com/dfedez920912/tbot-project/internal/infra/telemetry"
)

const (
	// matchingRuleInChain resolves transitive group membership, including
	// nested groups (LDAP_MATCHING_RULE_IN_CHAIN).
	matchingRuleInChain = "1.2.840.113556.1.4.1941"

	// accountDisabledBit is the ACCOUNTDISABLE flag inside
	// userAccountControl.
	accountDisabledBit = 0x2

	bulkSearchSizeLimit = 10000

	attrAccountName    = "sAMAccountName"
	attrDisplayName    = "displayName"
	attrMail           = "mail"
	attrPhone          = "telephoneNumber"
	attrAccountControl = "userAccountControl"
	attrPwdLastSet     = "pwdLastSet"
	attrUnicodePwd     = "unicodePwd"
)

// Client talks to the directory service over LDAP. Connections are acquired
// per operation and always released before returning; no connection survives
// across conversation steps.
type Client struct {
	cfg     config.DirectorySettings
	logger  *zap.Logger
	metrics *telemetry.Metrics
}

// NewClient constructs a directory client.
func NewClient(cfg config.DirectorySettings, log *zap.Logger, metrics *telemetry.Metrics) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{cfg: cfg, logger: log, metrics: metrics}
}

func (c *Client) dial() (*ldap.Conn, error) {
	// The original deployment runs against servers with self-signed
	// certificates, so verification stays off and TLS 1.2 is the floor.
	tlsCfg := &tls.Config{
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS12,
	}

	dialer := &net.Dialer{Timeout: c.cfg.ConnectTimeout}

	scheme := "ldap"
	opts := []ldap.DialOpt{ldap.DialWithDialer(dialer)}
	if c.cfg.UseSSL {
		scheme = "ldaps"
		opts = append(opts, ldap.DialWithTLSConfig(tlsCfg))
	}

	conn, err := ldap.DialURL(fmt.Sprintf("%s://%s:%d", scheme, c.cfg.Host, c.cfg.Port), opts...)
	if err != nil {
		return nil, fmt.Errorf("dial directory: %w", err)
	}

	conn.SetTimeout(c.cfg.OperationTimeout)
	return conn, nil
}

// bind opens a connection authenticated as the configured service account.
func (c *Client) bind() (*ldap.Conn, error) {
	conn, err := c.dial()
	if err != nil {
		return nil, err
	}

	if err := conn.Bind(c.cfg.BindUser, c.cfg.BindPassword); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bind service account: %w", err)
	}

	return conn, nil
}

func (c *Client) search(conn *ldap.Conn, filter string, attrs []string, sizeLimit int) (*ldap.SearchResult, error) {
	req := ldap.NewSearchRequest(
		c.cfg.SearchBase,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		sizeLimit,
		int(c.cfg.OperationTimeout.Seconds()),
		false,
		filter,
		attrs,
		nil,
	)
	return conn.Search(req)
}

func userByMailFilter(email string) string {
	return fmt.Sprintf("(&(objectClass=user)(mail=%s))", ldap.EscapeFilter(email))
}

// Authenticate binds with the supplied credentials on a fresh connection.
// Any failure, including connectivity problems, yields false.
func (c *Client) Authenticate(ctx context.Context, username, password string) bool {
	start := time.Now()
	ok := c.authenticate(ctx, username, password)
	c.metrics.RecordDirectoryOp("authenticate", start, !ok)

	if ok {
		c.logger.Info("directory authentication succeeded", zap.String("user", username))
	} else {
		c.logger.Warn("directory authentication failed", zap.String("user", username))
	}
	return ok
}

func (c *Client) authenticate(ctx context.Context, username, password string) bool {
	if ctx.Err() != nil || password == "" {
		return false
	}

	conn, err := c.dial()
	if err != nil {
		c.logger.Error("directory connection failed during authentication", zap.Error(err))
		return false
	}
	defer conn.Close()

	return conn.Bind(username, password) == nil
}

// ChangePassword resolves the account by email and replaces its password.
// All failure modes collapse into a curated result message; this method
// never returns an error to the caller.
func (c *Client) ChangePassword(ctx context.Context, email, newPassword string) domain.PasswordChangeResult {
	start := time.Now()
	result := c.changePassword(ctx, email, newPassword)
	c.metrics.RecordDirectoryOp("change_password", start, !result.Success)

	if result.Success {
		c.logger.Info("directory password changed", zap.String("email", logger.MaskEmail(email)))
	} else {
		c.logger.Error("directory password change failed",
			zap.String("email", logger.MaskEmail(email)),
			zap.String("reason", result.Message),
		)
	}
	return result
}

func (c *Client) changePassword(ctx context.Context, email, newPassword string) domain.PasswordChangeResult {
	if ctx.Err() != nil {
		return domain.PasswordChangeResult{Message: "The directory operation was cancelled."}
	}

	conn, err := c.bind()
	if err != nil {
		return domain.PasswordChangeResult{Message: "Could not connect to the directory service."}
	}
	defer conn.Close()

	// The directory only accepts unicodePwd modifications over a secure
	// channel. LDAPS already satisfies that; plain connections upgrade here.
	if !c.cfg.UseSSL {
		if err := conn.StartTLS(&tls.Config{InsecureSkipVerify: true, MinVersion: tls.VersionTLS12}); err != nil {
			return domain.PasswordChangeResult{Message: "StartTLS failed; refusing to change a password over an insecure connection."}
		}
	}

	res, err := c.search(conn, userByMailFilter(email), []string{"distinguishedName"}, 0)
	userDN, failure := resolveChangeTarget(res, err)
	if failure != nil {
		return *failure
	}

	encoded, err := encodePassword(newPassword)
	if err != nil {
		return domain.PasswordChangeResult{Message: "The new password could not be encoded for the directory."}
	}

	modify := ldap.NewModifyRequest(userDN, nil)
	modify.Replace(attrUnicodePwd, []string{encoded})

	if err := conn.Modify(modify); err != nil {
		return domain.PasswordChangeResult{
			Message: fmt.Sprintf("The password change was rejected. Reason: %s", ldapFailureReason(err)),
		}
	}

	return domain.PasswordChangeResult{Success: true, Message: "The password was changed successfully."}
}

// resolveChangeTarget maps the account lookup outcome onto the target DN or
// a curated failure. A failed search and an empty search are distinct: the
// first means the directory could not be queried, the second that no account
// carries the address.
func resolveChangeTarget(res *ldap.SearchResult, err error) (string, *domain.PasswordChangeResult) {
	if err != nil {
		return "", &domain.PasswordChangeResult{Message: "Could not connect to the directory service."}
	}
	if len(res.Entries) == 0 {
		return "", &domain.PasswordChangeResult{Message: "User not found in the directory."}
	}
	return res.Entries[0].DN, nil
}

// ldapFailureReason extracts the directory's diagnostic for a failed
// operation without leaking protocol internals.
func ldapFailureReason(err error) string {
	var ldapErr *ldap.Error
	if errors.As(err, &ldapErr) {
		return fmt.Sprintf("%s (code %d)", ldap.LDAPResultCodeMap[ldapErr.ResultCode], ldapErr.ResultCode)
	}
	return err.Error()
}

// FetchAllUsers runs the bulk person search with a fresh connection per
// attempt and a fixed delay between attempts. After exhausting retries the
// last error is returned; partial entries are skipped, not fatal.
func (c *Client) FetchAllUsers(ctx context.Context, maxRetries int, retryDelay time.Duration) ([]domain.DirectoryUser, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		c.logger.Info("fetching directory users",
			zap.Int("attempt", attempt),
			zap.String("host", c.cfg.Host),
		)

		start := time.Now()
		users, err := c.fetchAllUsers()
		c.metrics.RecordDirectoryOp("fetch_all_users", start, err != nil)

		if err == nil {
			c.logger.Info("directory users fetched", zap.Int("count", len(users)))
			return users, nil
		}

		lastErr = err
		c.logger.Error("directory fetch attempt failed", zap.Int("attempt", attempt), zap.Error(err))

		if attempt < maxRetries {
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, fmt.Errorf("fetch directory users after %d attempts: %w", maxRetries, lastErr)
}

func (c *Client) fetchAllUsers() ([]domain.DirectoryUser, error) {
	conn, err := c.bind()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	res, err := c.search(conn,
		"(&(objectClass=user)(objectCategory=person))",
		[]string{attrAccountName, attrDisplayName, attrMail, attrPhone},
		bulkSearchSizeLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}

	users := make([]domain.DirectoryUser, 0, len(res.Entries))
	for _, entry := range res.Entries {
		username := entry.GetAttributeValue(attrAccountName)
		if username == "" {
			c.logger.Warn("skipping directory entry without account name", zap.String("dn", entry.DN))
			continue
		}

		name := entry.GetAttributeValue(attrDisplayName)
		if name == "" {
			name = username
		}

		users = append(users, domain.DirectoryUser{
			Username: username,
			Name:     name,
			Email:    entry.GetAttributeValue(attrMail),
			Phone:    entry.GetAttributeValue(attrPhone),
		})
	}

	return users, nil
}

// IsGroupMember reports transitive membership of the account in the
// configured privileged group. Fails closed: any error means "not a member".
func (c *Client) IsGroupMember(ctx context.Context, email string) bool {
	start := time.Now()
	member, err := c.isGroupMember(ctx, email)
	c.metrics.RecordDirectoryOp("is_group_member", start, err != nil)

	if err != nil {
		c.logger.Error("group membership check failed, denying",
			zap.String("email", logger.MaskEmail(email)),
			zap.Error(err),
		)
		return false
	}
	return member
}

func (c *Client) isGroupMember(ctx context.Context, email string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if c.cfg.GroupDN == "" {
		return false, fmt.Errorf("privileged group DN is not configured")
	}

	conn, err := c.bind()
	if err != nil {
		return false, err
	}
	defer conn.Close()

	filter := fmt.Sprintf("(&(objectClass=user)(mail=%s)(memberOf:%s:=%s))",
		ldap.EscapeFilter(email),
		matchingRuleInChain,
		ldap.EscapeFilter(c.cfg.GroupDN),
	)

	res, err := c.search(conn, filter, []string{"memberOf"}, 0)
	if err != nil {
		return false, fmt.Errorf("search group membership: %w", err)
	}

	return len(res.Entries) > 0, nil
}

// IsAccountActive reports whether the account exists and is not disabled.
// Fails closed on not-found and on any connection or protocol error.
func (c *Client) IsAccountActive(ctx context.Context, email string) bool {
	start := time.Now()
	active, err := c.isAccountActive(ctx, email)
	c.metrics.RecordDirectoryOp("is_account_active", start, err != nil)

	if err != nil {
		c.logger.Error("account status check failed, treating as inactive",
			zap.String("email", logger.MaskEmail(email)),
			zap.Error(err),
		)
		return false
	}
	return active
}

func (c *Client) isAccountActive(ctx context.Context, email string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	conn, err := c.bind()
	if err != nil {
		return false, err
	}
	defer conn.Close()

	res, err := c.search(conn, userByMailFilter(email), []string{attrAccountControl}, 0)
	if err != nil {
		return false, fmt.Errorf("search account control: %w", err)
	}
	if len(res.Entries) == 0 {
		return false, nil
	}

	control, err := strconv.Atoi(res.Entries[0].GetAttributeValue(attrAccountControl))
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", attrAccountControl, err)
	}

	return control&accountDisabledBit == 0, nil
}

// GetPasswordLastSet reads and decodes the pwdLastSet attribute for the
// account resolved by email.
func (c *Client) GetPasswordLastSet(ctx context.Context, email string) (time.Time, error) {
	start := time.Now()
	ts, err := c.getPasswordLastSet(ctx, email)
	c.metrics.RecordDirectoryOp("get_password_last_set", start, err != nil)
	return ts, err
}

func (c *Client) getPasswordLastSet(ctx context.Context, email string) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}

	conn, err := c.bind()
	if err != nil {
		return time.Time{}, err
	}
	defer conn.Close()

	res, err := c.search(conn, userByMailFilter(email), []string{attrPwdLastSet}, 1)
	if err != nil {
		return time.Time{}, fmt.Errorf("search %s: %w", attrPwdLastSet, err)
	}
	if len(res.Entries) == 0 {
		return time.Time{}, fmt.Errorf("user %s not found in directory", email)
	}

	return parsePasswordLastSet(res.Entries[0].GetAttributeValue(attrPwdLastSet))
}
