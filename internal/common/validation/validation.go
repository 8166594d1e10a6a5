package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	MinCampaignNameLength        = 3
	MaxCampaignNameLength        = 50
	MinCampaignDescriptionLength = 10
	MaxCampaignDescriptionLength = 500
	MinDurationDays              = 1
	MaxDurationDays              = 30
	MinTargetParticipants        = 10
	MaxTargetParticipants        = 1000
	MinRewardDescriptionLength   = 3
	MaxRewardDescriptionLength   = 200
	MaxRequirementLength         = 300
)

var (
	// X/Twitter handle: 1-15 letters, digits, underscores.
	xHandleRegex = regexp.MustCompile(`^[A-Za-z0-9_]{1,15}$`)
	// Discord usernames: 2-32 lowercase letters, digits, underscores, periods.
	discordHandleRegex = regexp.MustCompile(`^[a-z0-9_.]{2,32}$`)
	// Telegram username: 5-32 letters, digits, underscores.
	telegramUsernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]{5,32}$`)
	// /<user>/status/<id> on x.com or twitter.com
	postPathRegex = regexp.MustCompile(`^/([A-Za-z0-9_]{1,15})/status/([0-9]{1,25})/?$`)
)

// ValidateCampaignName checks the campaign name length.
func ValidateCampaignName(name string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(name))
	if n < MinCampaignNameLength || n > MaxCampaignNameLength {
		return fmt.Errorf("name must be %d-%d characters", MinCampaignNameLength, MaxCampaignNameLength)
	}
	return nil
}

// ValidateCampaignDescription checks the campaign description length.
func ValidateCampaignDescription(description string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(description))
	if n < MinCampaignDescriptionLength || n > MaxCampaignDescriptionLength {
		return fmt.Errorf("description must be %d-%d characters", MinCampaignDescriptionLength, MaxCampaignDescriptionLength)
	}
	return nil
}

// ParsePostURL validates a target post link and returns the author handle and post id.
func ParsePostURL(raw string) (author, postID string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("invalid url")
	}
	if u.Scheme != "https" {
		return "", "", fmt.Errorf("post url must use https")
	}
	switch strings.ToLower(strings.TrimPrefix(u.Host, "www.")) {
	case "x.com", "twitter.com", "mobile.twitter.com":
	default:
		return "", "", fmt.Errorf("post url must point to x.com or twitter.com")
	}
	m := postPathRegex.FindStringSubmatch(u.Path)
	if m == nil {
		return "", "", fmt.Errorf("post url must look like https://x.com/<user>/status/<id>")
	}
	return m[1], m[2], nil
}

// ValidatePostURL reports whether raw is an accepted target post link.
func ValidatePostURL(raw string) error {
	_, _, err := ParsePostURL(raw)
	return err
}

// ValidateDurationDays checks the campaign duration bounds.
func ValidateDurationDays(days int) error {
	if days < MinDurationDays || days > MaxDurationDays {
		return fmt.Errorf("duration must be %d-%d days", MinDurationDays, MaxDurationDays)
	}
	return nil
}

// ValidateTargetParticipants checks the target participant bounds.
func ValidateTargetParticipants(n int) error {
	if n < MinTargetParticipants || n > MaxTargetParticipants {
		return fmt.Errorf("target participants must be %d-%d", MinTargetParticipants, MaxTargetParticipants)
	}
	return nil
}

// ValidateRewardDescription checks a reward description.
func ValidateRewardDescription(description string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(description))
	if n < MinRewardDescriptionLength || n > MaxRewardDescriptionLength {
		return fmt.Errorf("reward description must be %d-%d characters", MinRewardDescriptionLength, MaxRewardDescriptionLength)
	}
	return nil
}

// ValidateRequirement checks optional requirement text.
func ValidateRequirement(requirement string) error {
	if utf8.RuneCountInString(requirement) > MaxRequirementLength {
		return fmt.Errorf("requirement cannot exceed %d characters", MaxRequirementLength)
	}
	return nil
}

// ParsePositiveInt parses user input as a strictly positive integer.
func ParsePositiveInt(raw, fieldName string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number", fieldName)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be positive", fieldName)
	}
	return v, nil
}

// NormalizeHandle strips a leading @ and surrounding whitespace.
func NormalizeHandle(handle string) string {
	return strings.TrimPrefix(strings.TrimSpace(handle), "@")
}

// ValidateHandle validates a social handle for the given platform name.
func ValidateHandle(platform, handle string) error {
	handle = NormalizeHandle(handle)
	if handle == "" {
		return fmt.Errorf("handle cannot be empty")
	}
	switch platform {
	case "x":
		if !xHandleRegex.MatchString(handle) {
			return fmt.Errorf("x handle must be 1-15 letters, digits or underscores")
		}
	case "discord":
		if !discordHandleRegex.MatchString(handle) {
			return fmt.Errorf("discord username must be 2-32 lowercase letters, digits, underscores or periods")
		}
	case "telegram":
		if !telegramUsernameRegex.MatchString(handle) {
			return fmt.Errorf("telegram username must contain only letters, numbers, and underscores, 5-32 characters")
		}
	default:
		return fmt.Errorf("unsupported platform: %s", platform)
	}
	return nil
}
