package ai

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var clockPattern = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`)

// FallbackParse builds reminder fields without the AI service: the raw text
// becomes the task, relative-day words and an explicit HH:MM are extracted
// heuristically, everything else gets defaults. Deterministic for a given
// input and clock.
func FallbackParse(in ParseInput) *ParsedReminder {
	text := strings.TrimSpace(in.Text)
	lower := strings.ToLower(text)

	day := in.Now
	switch {
	case strings.Contains(lower, "day after tomorrow"):
		day = day.AddDate(0, 0, 2)
	case strings.Contains(lower, "tomorrow"):
		day = day.AddDate(0, 0, 1)
	}

	clock := in.DefaultTime
	if clock == "" {
		clock = "09:00"
	}
	if m := clockPattern.FindStringSubmatch(text); m != nil {
		hour, _ := strconv.Atoi(m[1])
		clock = fmt.Sprintf("%02d:%s", hour, m[2])
	}

	task := text
	if task == "" {
		task = "your task"
	}

	return &ParsedReminder{
		Task:                task,
		Date:                day.Format("2006-01-02"),
		Time:                clock,
		Priority:            "medium",
		NotificationMessage: FallbackMessage(task),
	}
}

// FallbackMessage is the notification text used when the AI service is
// unavailable or returns nothing.
func FallbackMessage(task string) string {
	if task == "" {
		task = "your task"
	}
	return fmt.Sprintf("Gentle reminder: %s is coming up. You've got this!", task)
}
