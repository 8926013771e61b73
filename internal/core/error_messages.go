package core

// error_messages.go maps technical errors to short operator-facing messages
// with a code that can be quoted in run summaries and audit queries.
//
// Codes are grouped by category:
//
//	FILE001-FILE099   input file problems (size, format, encoding, missing)
//	SCHEMA001-099     header problems (missing required columns)
//	DB001-DB099       store problems (constraints, connectivity, locking)
//	REQ001-REQ099     ops API request problems
//	RUN001-RUN099     run control (cancelled, already running)
//	ERR000            fallback when nothing matches
//
// Patterns are matched case-insensitively with strings.Contains. The first
// matching pattern wins, so more specific patterns come first.

import (
	"fmt"
	"strings"
)

// UserMessage provides operator-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened
	Action  string // What to do about it
	Code    string // Reference code
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// =========================================================================
	// File Errors (FILE001-FILE006)
	// =========================================================================
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds the configured size limit",
			Action:  "Split the file or raise ETL_MAX_FILE_SIZE",
			Code:    "FILE001",
		},
	},
	{
		pattern: "unsupported format",
		msg: UserMessage{
			Message: "File format is not supported",
			Action:  "Export the file as .csv or .xlsx",
			Code:    "FILE002",
		},
	},
	{
		pattern: "decode text",
		msg: UserMessage{
			Message: "File text encoding could not be decoded",
			Action:  "Save the file as UTF-8",
			Code:    "FILE003",
		},
	},
	{
		pattern: "no such file",
		msg: UserMessage{
			Message: "File not found",
			Action:  "Check the path passed to the run",
			Code:    "FILE004",
		},
	},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "File has no header or data rows",
			Action:  "Check the export that produced the file",
			Code:    "FILE005",
		},
	},
	{
		pattern: "parse delimited",
		msg: UserMessage{
			Message: "File is not valid delimited text",
			Action:  "Check quoting and the field separator",
			Code:    "FILE006",
		},
	},
	{
		pattern: "open spreadsheet",
		msg: UserMessage{
			Message: "Spreadsheet could not be opened",
			Action:  "Re-save the workbook as .xlsx",
			Code:    "FILE006",
		},
	},

	// =========================================================================
	// Schema Errors (SCHEMA001)
	// =========================================================================
	{
		pattern: "missing required columns",
		msg: UserMessage{
			Message: "Required columns are missing from the header",
			Action:  "Add the listed columns to the file header",
			Code:    "SCHEMA001",
		},
	},

	// =========================================================================
	// Store Constraint Errors (DB001-DB002)
	// =========================================================================
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A transaction with this business key already exists",
			Action:  "No action needed; duplicates are skipped",
			Code:    "DB001",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "A value that must be unique already exists",
			Action:  "Check the file for repeated business keys",
			Code:    "DB002",
		},
	},

	// =========================================================================
	// Store Connection Errors (DB004-DB008)
	// =========================================================================
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to the database",
			Action:  "Check DATABASE_URL and that the database is running",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Re-run the file; loaded rows are skipped",
			Code:    "DB005",
		},
	},
	{
		pattern: "deadline exceeded",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Re-run the file or lower ETL_BATCH_SIZE",
			Code:    "DB006",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Re-run the file or lower ETL_BATCH_SIZE",
			Code:    "DB006",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Re-run the file",
			Code:    "DB007",
		},
	},
	{
		pattern: "database is locked",
		msg: UserMessage{
			Message: "Database file is locked by another process",
			Action:  "Wait for the other run to finish",
			Code:    "DB008",
		},
	},

	{
		pattern: "not found",
		msg: UserMessage{
			Message: "The requested record does not exist",
			Action:  "Check the id against /api/runs",
			Code:    "DB009",
		},
	},

	// =========================================================================
	// Ops API Requests (REQ001)
	// =========================================================================
	{
		pattern: "invalid query parameter",
		msg: UserMessage{
			Message: "A request parameter is not valid",
			Action:  "Check the parameter named in the error",
			Code:    "REQ001",
		},
	},

	// =========================================================================
	// Run Control (RUN001-RUN002)
	// =========================================================================
	{
		pattern: "run already in progress",
		msg: UserMessage{
			Message: "Another pipeline run is in progress",
			Action:  "Wait for it to finish and try again",
			Code:    "RUN001",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Run was cancelled",
			Action:  "Re-run the remaining files",
			Code:    "RUN002",
		},
	},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Check the logs for the underlying error",
	Code:    "ERR000",
}

// MapError converts a technical error to an operator-friendly message.
// Returns an empty UserMessage for a nil error.
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

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}
