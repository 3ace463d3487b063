package collectjob

import (
	"encoding/json"
	"fmt"
	"os"
)

// logfileListDoc mirrors the static configuration document
// {"LOGFILE_LIST":[{"src_path":"..."}]} (spec §6).
type logfileListDoc struct {
	LogfileList []struct {
		SrcPath string `json:"src_path"`
	} `json:"LOGFILE_LIST"`
}

// commandListDoc mirrors {"COMMAND_LIST":[{"name":"...","command":"..."}]}.
type commandListDoc struct {
	CommandList []struct {
		Name    string `json:"name"`
		Command string `json:"command"`
	} `json:"COMMAND_LIST"`
}

// LoadCaptureItems reads the two static configuration documents named by
// spec §6 and returns the combined, ordered CaptureItem list: every file
// capture first, then every command capture (matching the fetch-then-
// commands stage order of §4.4).
func LoadCaptureItems(logfileListPath, commandListPath string) ([]CaptureItem, error) {
	var items []CaptureItem

	logRaw, err := os.ReadFile(logfileListPath)
	if err != nil {
		return nil, fmt.Errorf("collectjob: read logfile list: %w", err)
	}
	var logDoc logfileListDoc
	if err := json.Unmarshal(logRaw, &logDoc); err != nil {
		return nil, fmt.Errorf("collectjob: parse logfile list: %w", err)
	}
	for _, e := range logDoc.LogfileList {
		items = append(items, CaptureItem{Kind: FileCapture, RemotePath: e.SrcPath})
	}

	cmdRaw, err := os.ReadFile(commandListPath)
	if err != nil {
		return nil, fmt.Errorf("collectjob: read command list: %w", err)
	}
	var cmdDoc commandListDoc
	if err := json.Unmarshal(cmdRaw, &cmdDoc); err != nil {
		return nil, fmt.Errorf("collectjob: parse command list: %w", err)
	}
	for _, e := range cmdDoc.CommandList {
		items = append(items, CaptureItem{Kind: CommandCapture, Name: e.Name, Command: e.Command})
	}

	return items, nil
}
