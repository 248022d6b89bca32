package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Parse accepts cron(min hour dom month dow year) and rate(N unit)
// expressions, plus plain five-field cron specs.
func Parse(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	switch {
	case strings.HasPrefix(expr, "rate(") && strings.HasSuffix(expr, ")"):
		d, err := parseRate(expr[len("rate(") : len(expr)-1])
		if err != nil {
			return nil, err
		}
		return cron.Every(d), nil
	case strings.HasPrefix(expr, "cron(") && strings.HasSuffix(expr, ")"):
		spec, err := convertCron(expr[len("cron(") : len(expr)-1])
		if err != nil {
			return nil, err
		}
		expr = spec
	}

	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule expression %q: %w", expr, err)
	}
	return sched, nil
}

// Next returns the first fire time of expr strictly after from.
func Next(expr string, from time.Time) (time.Time, error) {
	sched, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(from), nil
}

func parseRate(body string) (time.Duration, error) {
	fields := strings.Fields(body)
	if len(fields) != 2 {
		return 0, fmt.Errorf("invalid rate expression %q", body)
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid rate value %q", fields[0])
	}

	var unit time.Duration
	switch strings.TrimSuffix(fields[1], "s") {
	case "minute":
		unit = time.Minute
	case "hour":
		unit = time.Hour
	case "day":
		unit = 24 * time.Hour
	default:
		return 0, fmt.Errorf("invalid rate unit %q", fields[1])
	}
	return time.Duration(n) * unit, nil
}

// convertCron turns a six-field cron(...) body, with a year field and '?'
// placeholders and 1-based weekdays, into a five-field spec.
func convertCron(body string) (string, error) {
	fields := strings.Fields(body)
	if len(fields) != 6 {
		return "", fmt.Errorf("cron expression needs 6 fields, got %d", len(fields))
	}
	if year := fields[5]; year != "*" && year != "?" {
		return "", fmt.Errorf("year field %q is not supported", year)
	}
	fields = fields[:5]
	for i, f := range fields {
		if f == "?" {
			fields[i] = "*"
		}
	}

	dow, err := shiftWeekdays(fields[4])
	if err != nil {
		return "", err
	}
	fields[4] = dow
	return strings.Join(fields, " "), nil
}

// shiftWeekdays maps numeric weekdays 1-7 (Sunday first) to 0-6.
func shiftWeekdays(field string) (string, error) {
	if strings.ContainsAny(field, "#L") {
		return "", fmt.Errorf("weekday field %q is not supported", field)
	}
	if field == "*" {
		return field, nil
	}

	parts := strings.Split(field, ",")
	for i, part := range parts {
		step := ""
		if j := strings.Index(part, "/"); j >= 0 {
			part, step = part[:j], part[j:]
		}
		bounds := strings.Split(part, "-")
		for k, b := range bounds {
			n, err := strconv.Atoi(b)
			if err != nil {
				continue
			}
			if n < 1 || n > 7 {
				return "", fmt.Errorf("weekday %d out of range", n)
			}
			bounds[k] = strconv.Itoa(n - 1)
		}
		parts[i] = strings.Join(bounds, "-") + step
	}
	return strings.Join(parts, ","), nil
}
