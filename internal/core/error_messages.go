// Package core error messages.
//
// # Error Code Reference
//
// This file maps technical errors to user-friendly messages with actionable
// guidance. Each message has a code that operators can quote to support.
//
// ## Import Pipeline Errors (IMP001-IMP006)
//
//	IMP001 - Wrong step: The action is not available at this step
//	         Action: Reload the import to see the current step
//
//	IMP002 - Import finished: This import has already been reported
//	         Action: Start a new import
//
//	IMP003 - Already executing: The import is already running
//	         Action: Wait for the current run to finish
//
//	IMP004 - Unknown conflict: No pending conflict for this tax ID
//	         Action: Reload the conflict list
//
//	IMP005 - Bad resolution: A resolution must be update or skip
//	         Action: Choose update or skip
//
//	IMP006 - Unknown counterparty: The organization is not in your scope
//	         Action: Check the organization tax ID and sub-code columns
//
//	IMP007 - Unknown owner: The owner organization is missing or unknown
//	         Action: Choose an organization you manage
//
// ## Session Errors (SES001-SES002)
//
//	SES001 - Session not found: The import session expired or never existed
//	         Action: Upload the file again
//
//	SES002 - Too many sessions: The server holds too many open imports
//	         Action: Finish or discard an open import and retry
//
// ## File Errors (FILE001-FILE005)
//
//	FILE001 - File too large: File exceeds maximum size limit
//	FILE002 - Wrong format: Only .xlsx files are accepted
//	FILE003 - No data: The sheet has no rows after the header
//	FILE004 - No header: Required columns were not found
//	FILE005 - Unreadable: The workbook could not be opened
//
// ## Database Errors (DB001-DB004)
//
//	DB001 - Duplicate: Another employee already uses this tax ID
//	DB002 - Missing reference: Referenced counterparty does not exist
//	DB003 - Connection: Unable to connect to database
//	DB004 - Timeout: Operation timed out
//
// ## Backend Errors (BCK001)
//
//	BCK001 - Backend unavailable: The import service did not answer
//
// ## Rate Limiting (RATE001-RATE002)
//
//	RATE001 - Rate limited: Too many requests
//	RATE002 - Busy: Too many imports are running
//
// ## Requests (REQ001)
//
//	REQ001 - Bad request: The request could not be read
//
// ## Generic (ERR000)
//
//	ERR000 - Unknown error: An unexpected error occurred
//
// # Pattern Matching
//
// Patterns are matched case-insensitively using strings.Contains. The first
// matching pattern wins, so specific patterns come before general ones.
package core

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error text (case-insensitive) to user messages.
// Order matters.
var errorPatterns = []errorPattern{
	// Pipeline
	{
		pattern: "is final",
		msg: UserMessage{
			Message: "This import has already been reported",
			Action:  "Start a new import",
			Code:    "IMP002",
		},
	},
	{
		pattern: "already executing",
		msg: UserMessage{
			Message: "The import is already running",
			Action:  "Wait for the current run to finish",
			Code:    "IMP003",
		},
	},
	{
		pattern: "cannot move from",
		msg: UserMessage{
			Message: "This action is not available at the current step",
			Action:  "Reload the import to see the current step",
			Code:    "IMP001",
		},
	},
	{
		pattern: "no pending conflict",
		msg: UserMessage{
			Message: "There is no pending conflict for this tax ID",
			Action:  "Reload the conflict list",
			Code:    "IMP004",
		},
	},
	{
		pattern: "resolution must be",
		msg: UserMessage{
			Message: "A resolution must be update or skip",
			Action:  "Choose update or skip",
			Code:    "IMP005",
		},
	},
	{
		pattern: "organization",
		msg: UserMessage{
			Message: "The organization is not available to you",
			Action:  "Check the organization tax ID and sub-code columns",
			Code:    "IMP006",
		},
	},

	// Sessions
	{
		pattern: "session not found",
		msg: UserMessage{
			Message: "The import session expired or never existed",
			Action:  "Upload the file again",
			Code:    "SES001",
		},
	},
	{
		pattern: "too many sessions",
		msg: UserMessage{
			Message: "The server holds too many open imports",
			Action:  "Finish or discard an open import and retry",
			Code:    "SES002",
		},
	},

	// Files
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds maximum size limit",
			Action:  "Split the file into smaller parts",
			Code:    "FILE001",
		},
	},
	{
		pattern: "unsupported file type",
		msg: UserMessage{
			Message: "Only .xlsx files are accepted",
			Action:  "Save the sheet as an Excel workbook and upload again",
			Code:    "FILE002",
		},
	},
	{
		pattern: "no data rows",
		msg: UserMessage{
			Message: "The sheet has no rows after the header",
			Action:  "Add employee rows below the header row",
			Code:    "FILE003",
		},
	},
	{
		pattern: "header row not found",
		msg: UserMessage{
			Message: "Required columns were not found",
			Action:  "Make sure the sheet has tax ID and organization tax ID columns",
			Code:    "FILE004",
		},
	},
	{
		pattern: "open workbook",
		msg: UserMessage{
			Message: "The workbook could not be opened",
			Action:  "Check that the file is a valid .xlsx workbook",
			Code:    "FILE005",
		},
	},

	// Database
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "Another employee already uses this tax ID",
			Action:  "Validate the file again to refresh conflicts",
			Code:    "DB001",
		},
	},
	{
		pattern: "violates foreign key",
		msg: UserMessage{
			Message: "Referenced counterparty does not exist",
			Action:  "Check the organization columns",
			Code:    "DB002",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB003",
		},
	},
	{
		pattern: "deadline exceeded",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try again or import a smaller file",
			Code:    "DB004",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try again or import a smaller file",
			Code:    "DB004",
		},
	},

	// Backend
	{
		pattern: "backend unavailable",
		msg: UserMessage{
			Message: "The import service did not answer",
			Action:  "Please try again in a few moments",
			Code:    "BCK001",
		},
	},

	// Rate limiting
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Wait a moment and try again",
			Code:    "RATE001",
		},
	},
	{
		pattern: "too many imports",
		msg: UserMessage{
			Message: "Too many imports are running",
			Action:  "Wait for other imports to finish and try again",
			Code:    "RATE002",
		},
	},
	{
		pattern: "owner counterparty",
		msg: UserMessage{
			Message: "The owner organization is missing or unknown",
			Action:  "Choose an organization you manage",
			Code:    "IMP007",
		},
	},
	{
		pattern: "invalid request",
		msg: UserMessage{
			Message: "The request could not be read",
			Action:  "Check the request format and try again",
			Code:    "REQ001",
		},
	},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message. If no
// pattern matches, the ERR000 fallback is returned.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())

	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a known pattern.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
