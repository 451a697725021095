package gateway

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap-id"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
)

const (
	dialTimeout    = 10 * time.Second
	commandTimeout = 2 * time.Minute
	fetchBatchSize = 10
	maxFetch       = 200
)

func init() {
	imap.CharsetReader = charset.Reader
}

// IMAPSource implements Source over IMAP
type IMAPSource struct {
	tokens *tokenCache
}

// NewIMAPSource creates an IMAP-backed Source
func NewIMAPSource() *IMAPSource {
	return &IMAPSource{tokens: newTokenCache()}
}

// connect dials the account's IMAP server, performs the ID handshake
// for providers that require client identification before login, and
// authenticates with LOGIN or XOAUTH2.
func (s *IMAPSource) connect(ctx context.Context, account Account) (*client.Client, error) {
	addr := fmt.Sprintf("%s:%d", account.IMAPHost, account.IMAPPort)
	dialer := &net.Dialer{Timeout: dialTimeout}

	var c *client.Client
	if account.UseSSL {
		tlsConfig := &tls.Config{ServerName: account.IMAPHost}
		conn, err := tls.DialWithDialer(dialer, "tcp", addr, tlsConfig)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
		}
		c, err = client.New(conn)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
		}
	} else {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
		}
		c, err = client.New(conn)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
		}
	}

	c.Timeout = commandTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < c.Timeout {
			c.Timeout = remaining
		}
	}

	// Some providers (163.com and friends) reject logins from clients
	// that skip the ID handshake.
	if ok, _ := c.Support("ID"); ok {
		idClient := id.NewClient(c)
		// Not all servers require ID; a failed handshake is fine.
		_, _ = idClient.ID(id.ID{
			id.FieldName:    "Mailminder",
			id.FieldVersion: "1.0.0",
			id.FieldVendor:  "Mailminder",
		})
	}

	if account.AuthType == AuthTypeOAuth2 {
		accessToken, err := s.tokens.accessToken(ctx, account)
		if err != nil {
			c.Logout()
			return nil, fmt.Errorf("%w: oauth token: %v", ErrFetchFailed, err)
		}
		if err := c.Authenticate(newXOAuth2Client(account.Username, accessToken)); err != nil {
			c.Logout()
			return nil, fmt.Errorf("%w: XOAUTH2 authentication failed: %v", ErrFetchFailed, err)
		}
	} else {
		if err := c.Login(account.Username, account.Password); err != nil {
			c.Logout()
			return nil, fmt.Errorf("%w: login failed: %v", ErrFetchFailed, err)
		}
	}

	return c, nil
}

// ChangesSince fetches messages with UIDs above the cursor position.
// The cursor encodes "uidvalidity:lastuid"; a UIDVALIDITY change means
// the mailbox was rebuilt and the cursor is reported invalid.
func (s *IMAPSource) ChangesSince(ctx context.Context, account Account, cursor string) (*ChangeSet, error) {
	validity, lastUID, err := parseCursor(cursor)
	if err != nil {
		return nil, ErrCursorInvalid
	}

	c, err := s.connect(ctx, account)
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	mbox, err := c.Select("INBOX", true)
	if err != nil {
		return nil, fmt.Errorf("%w: select INBOX: %v", ErrFetchFailed, err)
	}
	if mbox.UidValidity != validity {
		return nil, ErrCursorInvalid
	}

	criteria := imap.NewSearchCriteria()
	uidRange := new(imap.SeqSet)
	uidRange.AddRange(lastUID+1, 0)
	criteria.Uid = uidRange

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("%w: uid search: %v", ErrFetchFailed, err)
	}

	newCursor := formatCursor(mbox.UidValidity, mbox.UidNext-1)
	if len(uids) == 0 {
		return &ChangeSet{Messages: []RawMessage{}, Cursor: newCursor}, nil
	}

	messages, err := s.fetchByUID(c, uids)
	if err != nil {
		return nil, err
	}
	return &ChangeSet{Messages: messages, Cursor: newCursor}, nil
}

// Search fetches messages received on or after the given date
func (s *IMAPSource) Search(ctx context.Context, account Account, since time.Time) (*ChangeSet, error) {
	c, err := s.connect(ctx, account)
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	mbox, err := c.Select("INBOX", true)
	if err != nil {
		return nil, fmt.Errorf("%w: select INBOX: %v", ErrFetchFailed, err)
	}
	if mbox.Messages == 0 {
		return &ChangeSet{Messages: []RawMessage{}, Cursor: formatCursor(mbox.UidValidity, mbox.UidNext-1)}, nil
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = time.Date(since.Year(), since.Month(), since.Day(), 0, 0, 0, 0, time.UTC)

	seqNums, err := c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", ErrFetchFailed, err)
	}

	cursor := formatCursor(mbox.UidValidity, mbox.UidNext-1)
	if len(seqNums) == 0 {
		return &ChangeSet{Messages: []RawMessage{}, Cursor: cursor}, nil
	}
	if len(seqNums) > maxFetch {
		seqNums = seqNums[len(seqNums)-maxFetch:]
	}

	uids, err := s.resolveUIDs(c, seqNums)
	if err != nil {
		return nil, err
	}
	messages, err := s.fetchByUID(c, uids)
	if err != nil {
		return nil, err
	}
	return &ChangeSet{Messages: messages, Cursor: cursor}, nil
}

// Thread fetches the envelopes of every message referencing the thread
// id (a Message-Id), ordered by date.
func (s *IMAPSource) Thread(ctx context.Context, account Account, threadID string) (*Thread, error) {
	c, err := s.connect(ctx, account)
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	if _, err := c.Select("INBOX", true); err != nil {
		return nil, fmt.Errorf("%w: select INBOX: %v", ErrThreadUnavailable, err)
	}

	bare := strings.Trim(threadID, "<>")
	byMsgID := imap.NewSearchCriteria()
	byMsgID.Header = textproto.MIMEHeader{"Message-Id": {bare}}
	byRefs := imap.NewSearchCriteria()
	byRefs.Header = textproto.MIMEHeader{"References": {bare}}
	byReply := imap.NewSearchCriteria()
	byReply.Header = textproto.MIMEHeader{"In-Reply-To": {bare}}

	inner := imap.NewSearchCriteria()
	inner.Or = [][2]*imap.SearchCriteria{{byRefs, byReply}}
	criteria := imap.NewSearchCriteria()
	criteria.Or = [][2]*imap.SearchCriteria{{byMsgID, inner}}

	seqNums, err := c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrThreadUnavailable, err)
	}
	if len(seqNums) == 0 {
		return nil, ErrThreadUnavailable
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(seqNums...)
	msgs := make(chan *imap.Message, len(seqNums))
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqSet, []imap.FetchItem{imap.FetchEnvelope}, msgs)
	}()

	var thread Thread
	for msg := range msgs {
		if msg == nil || msg.Envelope == nil {
			continue
		}
		tm := ThreadMessage{
			MessageID: msg.Envelope.MessageId,
			Date:      msg.Envelope.Date,
		}
		if len(msg.Envelope.From) > 0 {
			tm.From = formatAddress(msg.Envelope.From[0])
		}
		thread.Messages = append(thread.Messages, tm)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrThreadUnavailable, err)
	}

	sortThread(&thread)
	return &thread, nil
}

// resolveUIDs maps sequence numbers to UIDs
func (s *IMAPSource) resolveUIDs(c *client.Client, seqNums []uint32) ([]uint32, error) {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(seqNums...)
	msgs := make(chan *imap.Message, len(seqNums))
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqSet, []imap.FetchItem{imap.FetchUid}, msgs)
	}()

	var uids []uint32
	for msg := range msgs {
		if msg != nil {
			uids = append(uids, msg.Uid)
		}
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	return uids, nil
}

// fetchByUID fetches envelopes, structures and bodies in batches over a
// single connection.
func (s *IMAPSource) fetchByUID(c *client.Client, uids []uint32) ([]RawMessage, error) {
	if len(uids) > maxFetch {
		uids = uids[len(uids)-maxFetch:]
	}

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope, imap.FetchBodyStructure, section.FetchItem()}

	var out []RawMessage
	for i := 0; i < len(uids); i += fetchBatchSize {
		end := i + fetchBatchSize
		if end > len(uids) {
			end = len(uids)
		}
		uidSet := new(imap.SeqSet)
		uidSet.AddNum(uids[i:end]...)

		msgs := make(chan *imap.Message, fetchBatchSize)
		done := make(chan error, 1)
		go func() {
			done <- c.UidFetch(uidSet, items, msgs)
		}()

		for msg := range msgs {
			if msg == nil || msg.Envelope == nil {
				continue
			}
			raw := parseFetchedMessage(msg, section)
			out = append(out, raw)
		}
		if err := <-done; err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
		}
	}
	return out, nil
}

// parseFetchedMessage converts one IMAP fetch result into a RawMessage
func parseFetchedMessage(msg *imap.Message, section *imap.BodySectionName) RawMessage {
	raw := RawMessage{
		MessageID: msg.Envelope.MessageId,
		Subject:   msg.Envelope.Subject,
		Date:      msg.Envelope.Date,
	}
	if raw.MessageID == "" {
		raw.MessageID = fmt.Sprintf("uid:%d", msg.Uid)
	}
	if len(msg.Envelope.From) > 0 {
		raw.From = formatAddress(msg.Envelope.From[0])
	}
	var to []string
	for _, addr := range msg.Envelope.To {
		to = append(to, formatAddress(addr))
	}
	raw.To = strings.Join(to, ", ")
	raw.HasAttachments = hasAttachments(msg.BodyStructure)

	if literal := msg.GetBody(section); literal != nil {
		body, references := parseBody(literal)
		raw.Body = body
		raw.ThreadID = references
	}

	// Root of a new conversation threads on its own id.
	if raw.ThreadID == "" {
		if msg.Envelope.InReplyTo != "" {
			raw.ThreadID = msg.Envelope.InReplyTo
		} else {
			raw.ThreadID = raw.MessageID
		}
	}
	return raw
}

// parseBody extracts a text body and the thread root from the raw MIME
// content. Returns the first References token when present.
func parseBody(literal imap.Literal) (body, threadRoot string) {
	entity, err := message.Read(literal)
	if err != nil {
		return "", ""
	}

	if refs := entity.Header.Get("References"); refs != "" {
		if fields := strings.Fields(refs); len(fields) > 0 {
			threadRoot = fields[0]
		}
	}

	body = extractText(entity)
	return body, threadRoot
}

// extractText walks the MIME tree preferring text/plain over text/html
func extractText(entity *message.Entity) string {
	mr := entity.MultipartReader()
	if mr == nil {
		mediaType, _, _ := entity.Header.ContentType()
		if strings.HasPrefix(mediaType, "text/") || mediaType == "" {
			data, err := io.ReadAll(entity.Body)
			if err != nil {
				return ""
			}
			return string(data)
		}
		return ""
	}

	var plain, html string
	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}
		mediaType, _, _ := part.Header.ContentType()
		switch {
		case mediaType == "text/plain" && plain == "":
			if data, err := io.ReadAll(part.Body); err == nil {
				plain = string(data)
			}
		case mediaType == "text/html" && html == "":
			if data, err := io.ReadAll(part.Body); err == nil {
				html = string(data)
			}
		case strings.HasPrefix(mediaType, "multipart/"):
			if nested := extractText(part); nested != "" && plain == "" {
				plain = nested
			}
		}
	}
	if plain != "" {
		return plain
	}
	return html
}

// hasAttachments walks the body structure looking for attachment parts
func hasAttachments(bs *imap.BodyStructure) bool {
	if bs == nil {
		return false
	}
	if strings.EqualFold(bs.Disposition, "attachment") {
		return true
	}
	for _, part := range bs.Parts {
		if hasAttachments(part) {
			return true
		}
	}
	return false
}

// formatAddress renders an IMAP address as "Name <box@host>" or bare
func formatAddress(addr *imap.Address) string {
	email := fmt.Sprintf("%s@%s", addr.MailboxName, addr.HostName)
	if addr.PersonalName != "" {
		return fmt.Sprintf("%s <%s>", addr.PersonalName, email)
	}
	return email
}

func parseCursor(cursor string) (validity uint32, lastUID uint32, err error) {
	var v, u uint32
	if _, err := fmt.Sscanf(cursor, "%d:%d", &v, &u); err != nil {
		return 0, 0, err
	}
	return v, u, nil
}

func formatCursor(validity, lastUID uint32) string {
	return fmt.Sprintf("%d:%d", validity, lastUID)
}

func sortThread(t *Thread) {
	sort.Slice(t.Messages, func(i, j int) bool {
		return t.Messages[i].Date.Before(t.Messages[j].Date)
	})
}

// xoAuth2Client implements the SASL XOAUTH2 mechanism
type xoAuth2Client struct {
	username    string
	accessToken string
}

func newXOAuth2Client(username, accessToken string) *xoAuth2Client {
	return &xoAuth2Client{username: username, accessToken: accessToken}
}

// Start begins the XOAUTH2 exchange
func (c *xoAuth2Client) Start() (mech string, ir []byte, err error) {
	ir = []byte(fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", c.username, c.accessToken))
	return "XOAUTH2", ir, nil
}

// Next handles server challenges; XOAUTH2 has none
func (c *xoAuth2Client) Next(challenge []byte) ([]byte, error) {
	return nil, nil
}
