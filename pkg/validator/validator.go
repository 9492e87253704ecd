package validator

import (
	"fmt"
	"strings"
)

type ValidationErrors map[string]string

func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

func (v ValidationErrors) Add(field, message string) {
	v[field] = message
}

const (
	maxContentLength   = 4000
	maxAttachments     = 10
	maxAttachmentBytes = 25 << 20  // per file
	maxTotalBytes      = 100 << 20 // per message
)

// ValidateOutgoingMessage checks a message before any upload or channel
// submission happens. sizes holds the byte size of each attachment.
func ValidateOutgoingMessage(content string, sizes []int64) ValidationErrors {
	errs := make(ValidationErrors)

	trimmed := strings.TrimSpace(content)
	if trimmed == "" && len(sizes) == 0 {
		errs.Add("content", "Message needs text or at least one attachment")
	}
	if len(content) > maxContentLength {
		errs.Add("content", fmt.Sprintf("Message is longer than %d characters", maxContentLength))
	}

	if len(sizes) > maxAttachments {
		errs.Add("attachments", fmt.Sprintf("At most %d attachments per message", maxAttachments))
	}

	var total int64
	for i, size := range sizes {
		if size <= 0 {
			errs.Add("attachments", fmt.Sprintf("Attachment %d is empty", i+1))
			continue
		}
		if size > maxAttachmentBytes {
			errs.Add("attachments", fmt.Sprintf("Attachment %d exceeds %d MB", i+1, maxAttachmentBytes>>20))
		}
		total += size
	}
	if total > maxTotalBytes {
		errs.Add("attachments", fmt.Sprintf("Attachments exceed %d MB combined", maxTotalBytes>>20))
	}

	return errs
}

// ValidateConversationID rejects ids the backend could never have issued.
func ValidateConversationID(id string) ValidationErrors {
	errs := make(ValidationErrors)

	id = strings.TrimSpace(id)
	if id == "" {
		errs.Add("conversation_id", "Conversation id is required")
	} else if len(id) > 128 {
		errs.Add("conversation_id", "Conversation id is too long")
	}

	return errs
}
