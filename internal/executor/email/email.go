// Package email executes email-domain commands against a mailbox backend.
// The mailbox protocol lives behind the Client interface; this package owns
// parameter translation, failure classification, and the spoken summaries.
package email

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/voicedesk/voicedesk/internal/fault"
	"github.com/voicedesk/voicedesk/internal/schema"
)

// Sentinel errors a Client implementation returns for classifiable failures.
var (
	// ErrNotFound indicates the message or folder does not exist.
	ErrNotFound = errors.New("email: not found")
	// ErrAuth indicates the account credentials were rejected.
	ErrAuth = errors.New("email: authentication failed")
)

// Message is a mailbox message header.
type Message struct {
	ID          string
	Sender      string
	Subject     string
	Date        time.Time
	Unread      bool
	Attachments []string
}

// ListFilter narrows a folder listing.
type ListFilter struct {
	// Sender matches the sender name or address, case-insensitively.
	Sender string
	// Since keeps only messages on or after this time.
	Since time.Time
	// UnreadOnly keeps only unread messages.
	UnreadOnly bool
	// ReadOnly keeps only read messages.
	ReadOnly bool
}

// Client is the mailbox backend contract (IMAP, Exchange, or a fake in
// tests). Implementations return ErrNotFound/ErrAuth for those conditions
// so the executor can classify them.
type Client interface {
	List(ctx context.Context, folder string, filter ListFilter) ([]Message, error)
	Read(ctx context.Context, messageID string) (Message, string, error)
	Mark(ctx context.Context, messageID string, unread bool) error
	Move(ctx context.Context, messageID, folder string) error
	Delete(ctx context.Context, messageID string) error
	SaveAttachments(ctx context.Context, messageID, name, destDir string) ([]string, error)
}

// DefaultFolder is used when a command names no folder.
const DefaultFolder = "INBOX"

// Executor serves the email command domain.
type Executor struct {
	client      Client
	downloadDir string
	logger      zerolog.Logger
}

// New creates an email executor over the given backend client.
func New(client Client, downloadDir string, logger zerolog.Logger) *Executor {
	return &Executor{
		client:      client,
		downloadDir: downloadDir,
		logger:      logger.With().Str("component", "email").Logger(),
	}
}

// Domain implements schema.Executor.
func (e *Executor) Domain() schema.Domain {
	return schema.DomainEmail
}

// Execute implements schema.Executor.
func (e *Executor) Execute(ctx context.Context, cmd *schema.StructuredCommand) (*schema.ActionOutcome, error) {
	switch cmd.Type {
	case schema.EmailList:
		return e.list(ctx, cmd)
	case schema.EmailRead:
		return e.read(ctx, cmd)
	case schema.EmailMark:
		return e.mark(ctx, cmd)
	case schema.EmailMove:
		return e.move(ctx, cmd)
	case schema.EmailDelete:
		return e.delete(ctx, cmd)
	case schema.EmailAttachment:
		return e.downloadAttachment(ctx, cmd)
	default:
		return nil, fault.New(fault.ExecutorPermanent, "email executor cannot handle %s", cmd.Type)
	}
}

func (e *Executor) list(ctx context.Context, cmd *schema.StructuredCommand) (*schema.ActionOutcome, error) {
	folder := cmd.ParamOr("folder", DefaultFolder)
	filter := ListFilter{Sender: cmd.ParamOr("sender", "")}

	switch cmd.ParamOr("status", "unread") {
	case "unread":
		filter.UnreadOnly = true
	case "read":
		filter.ReadOnly = true
	}
	if since, ok := cmd.Param("since"); ok {
		t, err := schema.ParseDate(since, time.Now())
		if err == nil {
			filter.Since = t
		}
	}

	messages, err := e.client.List(ctx, folder, filter)
	if err != nil {
		return nil, classify(err, "list "+folder)
	}

	outcome := &schema.ActionOutcome{
		Status:  schema.StatusSuccess,
		Summary: summarizeList(messages, folder, filter),
		Refs:    map[string]string{"folder": folder},
	}
	if len(messages) > 0 {
		outcome.Refs["email_id"] = messages[0].ID
	}
	return outcome, nil
}

func (e *Executor) read(ctx context.Context, cmd *schema.StructuredCommand) (*schema.ActionOutcome, error) {
	id, _ := cmd.Param("message_id")
	msg, body, err := e.client.Read(ctx, id)
	if err != nil {
		return nil, classify(err, "read message "+id)
	}

	return &schema.ActionOutcome{
		Status:  schema.StatusSuccess,
		Summary: fmt.Sprintf("From %s: %s. %s", msg.Sender, msg.Subject, truncateForSpeech(body, 300)),
		Refs:    map[string]string{"email_id": msg.ID},
	}, nil
}

func (e *Executor) mark(ctx context.Context, cmd *schema.StructuredCommand) (*schema.ActionOutcome, error) {
	id, _ := cmd.Param("message_id")
	markAs, _ := cmd.Param("mark_as")

	if err := e.client.Mark(ctx, id, markAs == "unread"); err != nil {
		return nil, classify(err, "mark message "+id)
	}

	return &schema.ActionOutcome{
		Status:  schema.StatusSuccess,
		Summary: fmt.Sprintf("Marked the message as %s.", markAs),
		Refs:    map[string]string{"email_id": id},
	}, nil
}

func (e *Executor) move(ctx context.Context, cmd *schema.StructuredCommand) (*schema.ActionOutcome, error) {
	id, _ := cmd.Param("message_id")
	folder, _ := cmd.Param("folder")

	if err := e.client.Move(ctx, id, folder); err != nil {
		return nil, classify(err, "move message "+id)
	}

	return &schema.ActionOutcome{
		Status:  schema.StatusSuccess,
		Summary: fmt.Sprintf("Moved the message to %s.", folder),
		Refs:    map[string]string{"email_id": id, "folder": folder},
	}, nil
}

// delete handles the three deletion shapes: a single message, everything
// from a sender, or everything in a folder. Multi-message deletion reports
// a partial outcome when some deletions fail.
func (e *Executor) delete(ctx context.Context, cmd *schema.StructuredCommand) (*schema.ActionOutcome, error) {
	if id, ok := cmd.Param("message_id"); ok && id != "" {
		if err := e.client.Delete(ctx, id); err != nil {
			return nil, classify(err, "delete message "+id)
		}
		return &schema.ActionOutcome{
			Status:  schema.StatusSuccess,
			Summary: "Deleted the message.",
		}, nil
	}

	folder := cmd.ParamOr("folder", DefaultFolder)
	filter := ListFilter{Sender: cmd.ParamOr("sender", "")}
	messages, err := e.client.List(ctx, folder, filter)
	if err != nil {
		return nil, classify(err, "list "+folder)
	}
	if len(messages) == 0 {
		return &schema.ActionOutcome{
			Status:  schema.StatusSuccess,
			Summary: "Nothing matched, so nothing was deleted.",
		}, nil
	}

	deleted := 0
	for _, msg := range messages {
		if ctx.Err() != nil {
			break
		}
		if err := e.client.Delete(ctx, msg.ID); err != nil {
			e.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("delete failed")
			continue
		}
		deleted++
	}

	switch {
	case deleted == len(messages):
		return &schema.ActionOutcome{
			Status:  schema.StatusSuccess,
			Summary: fmt.Sprintf("Deleted %d messages.", deleted),
		}, nil
	case deleted > 0:
		return &schema.ActionOutcome{
			Status:    schema.StatusPartial,
			Summary:   fmt.Sprintf("Deleted %d of %d messages; the rest failed.", deleted, len(messages)),
			ErrorKind: fault.ExecutorTransient.String(),
		}, nil
	default:
		return nil, fault.New(fault.ExecutorTransient, "all %d deletions failed in %s", len(messages), folder)
	}
}

func (e *Executor) downloadAttachment(ctx context.Context, cmd *schema.StructuredCommand) (*schema.ActionOutcome, error) {
	id, _ := cmd.Param("message_id")
	dest := cmd.ParamOr("destination", e.downloadDir)

	saved, err := e.client.SaveAttachments(ctx, id, cmd.ParamOr("attachment", ""), dest)
	if err != nil {
		return nil, classify(err, "save attachments of "+id)
	}
	if len(saved) == 0 {
		return &schema.ActionOutcome{
			Status:  schema.StatusSuccess,
			Summary: "That message has no attachments.",
			Refs:    map[string]string{"email_id": id},
		}, nil
	}

	return &schema.ActionOutcome{
		Status:  schema.StatusSuccess,
		Summary: fmt.Sprintf("Saved %d attachments to %s.", len(saved), dest),
		Refs:    map[string]string{"email_id": id, "file_path": saved[0]},
	}, nil
}

// classify maps a client error onto the fault taxonomy. Unknown errors are
// treated as transient: mailbox backends fail mostly for network reasons,
// and a wrong retry is cheaper than a wrongly-final answer.
func classify(err error, op string) error {
	switch {
	case errors.Is(err, ErrAuth):
		return fault.Wrap(fault.ExecutorPermanent, err, "%s: authentication rejected", op)
	case errors.Is(err, ErrNotFound):
		return fault.Wrap(fault.ExecutorPermanent, err, "%s: not found", op)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fault.Wrap(fault.ExecutorTransient, err, "%s: network error", op)
	}
	return fault.Wrap(fault.ExecutorTransient, err, "%s failed", op)
}

// summarizeList phrases a listing for speech.
func summarizeList(messages []Message, folder string, filter ListFilter) string {
	qualifier := ""
	if filter.UnreadOnly {
		qualifier = "unread "
	}
	if len(messages) == 0 {
		return fmt.Sprintf("No %smessages in %s.", qualifier, folder)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "You have %d %smessages in %s.", len(messages), qualifier, folder)
	for i, msg := range messages {
		if i == 3 {
			sb.WriteString(" And more.")
			break
		}
		fmt.Fprintf(&sb, " From %s: %s.", msg.Sender, msg.Subject)
	}
	return sb.String()
}

// truncateForSpeech keeps a body short enough to speak.
func truncateForSpeech(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
