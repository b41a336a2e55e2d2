package email

import "context"

// UnconfiguredClient is the backend used when no mail account has working
// credentials. Every call fails with ErrAuth so the executor reports a
// permanent, spoken failure instead of hanging on a dead connection.
type UnconfiguredClient struct{}

func (UnconfiguredClient) List(ctx context.Context, folder string, filter ListFilter) ([]Message, error) {
	return nil, ErrAuth
}

func (UnconfiguredClient) Read(ctx context.Context, messageID string) (Message, string, error) {
	return Message{}, "", ErrAuth
}

func (UnconfiguredClient) Mark(ctx context.Context, messageID string, unread bool) error {
	return ErrAuth
}

func (UnconfiguredClient) Move(ctx context.Context, messageID, folder string) error {
	return ErrAuth
}

func (UnconfiguredClient) Delete(ctx context.Context, messageID string) error {
	return ErrAuth
}

func (UnconfiguredClient) SaveAttachments(ctx context.Context, messageID, name, destDir string) ([]string, error) {
	return nil, ErrAuth
}
