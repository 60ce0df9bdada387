// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-e2ee.
//
// go-e2ee is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jeremyhahn/go-e2ee/pkg/types"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
)

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer
}

// NewPrinter creates a new Printer
func NewPrinter(format string, writer io.Writer) *Printer {
	return &Printer{
		format: OutputFormat(format),
		writer: writer,
	}
}

// PrintFingerprint prints a user's public key fingerprint
func (p *Printer) PrintFingerprint(userID, fingerprint string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"user":        userID,
			"fingerprint": fingerprint,
		})
	case OutputFormatText:
		fmt.Fprintf(p.writer, "User:        %s\n", userID)
		fmt.Fprintf(p.writer, "Fingerprint: %s\n", fingerprint)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintBackupStatus prints a backup status report
func (p *Printer) PrintBackupStatus(userID string, status *types.BackupStatus) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"user":           userID,
			"has_backup":     status.HasBackup,
			"auth_method":    string(status.AuthMethod),
			"last_backup_at": status.LastBackupAt,
		})
	case OutputFormatText:
		fmt.Fprintf(p.writer, "User:   %s\n", userID)
		if !status.HasBackup {
			fmt.Fprintln(p.writer, "Backup: none")
			return nil
		}
		fmt.Fprintln(p.writer, "Backup: present")
		fmt.Fprintf(p.writer, "Method: %s\n", status.AuthMethod)
		fmt.Fprintf(p.writer, "Last:   %s\n", status.LastBackupAt.Format("2006-01-02 15:04:05 MST"))
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintHealthReport prints a key health report
func (p *Printer) PrintHealthReport(userID string, report *types.KeyHealthReport) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"user":           userID,
			"healthy":        report.Healthy,
			"error":          report.Error,
			"recommendation": report.Recommendation,
		})
	case OutputFormatText:
		fmt.Fprintf(p.writer, "User:    %s\n", userID)
		if report.Healthy {
			fmt.Fprintln(p.writer, "Health:  OK")
			return nil
		}
		fmt.Fprintln(p.writer, "Health:  UNHEALTHY")
		fmt.Fprintf(p.writer, "Error:   %s\n", report.Error)
		fmt.Fprintf(p.writer, "Action:  %s\n", report.Recommendation)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintMessage prints a simple status message
func (p *Printer) PrintMessage(message string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{"message": message})
	case OutputFormatText:
		fmt.Fprintln(p.writer, message)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintError prints an error
func (p *Printer) PrintError(err error) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{"error": err.Error()})
	default:
		fmt.Fprintf(p.writer, "Error: %v\n", err)
		return nil
	}
}

func (p *Printer) printJSON(data interface{}) error {
	encoder := json.NewEncoder(p.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
