package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	cronlib "github.com/robfig/cron/v3"

	ingestion "github.com/aws-samples/amazon-ecr-ingestion-demo"
)

// cronParser supports standard 5-field cron, CRON_TZ prefixes and
// descriptors like "@daily" or "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseExpression parses a trigger expression and evaluates it in the named
// time zone (UTC when empty). Accepted forms:
//
//	cron(0 9 * * *)          five fields, standard cron semantics
//	cron(0 9 ? * MON-FRI *)  six fields with year, day-of-week 1-7 from Sunday
//	rate(12 hours)           fixed interval in minutes, hours or days
//	0 9 * * *                plain cron, descriptors and CRON_TZ= prefixes
func ParseExpression(expr, timeZone string) (cronlib.Schedule, error) {
	expr = strings.TrimSpace(expr)
	invalid := func(err error) error {
		return fmt.Errorf("%w %q: %w", ingestion.ErrInvalidExpression, expr, err)
	}

	loc := time.UTC
	if timeZone != "" {
		l, err := time.LoadLocation(timeZone)
		if err != nil {
			return nil, invalid(err)
		}
		loc = l
	}

	switch {
	case strings.HasPrefix(expr, "rate(") && strings.HasSuffix(expr, ")"):
		d, err := parseRate(expr[len("rate(") : len(expr)-1])
		if err != nil {
			return nil, invalid(err)
		}
		return cronlib.Every(d), nil

	case strings.HasPrefix(expr, "cron(") && strings.HasSuffix(expr, ")"):
		spec, err := awsCron(expr[len("cron(") : len(expr)-1])
		if err != nil {
			return nil, invalid(err)
		}
		expr = spec
	}

	if !strings.HasPrefix(expr, "CRON_TZ=") && !strings.HasPrefix(expr, "TZ=") && !strings.HasPrefix(expr, "@every") {
		expr = "CRON_TZ=" + loc.String() + " " + expr
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, invalid(err)
	}
	// robfig returns the zero time when no match exists within five years.
	if sched.Next(time.Now().In(loc)).IsZero() {
		return nil, invalid(errors.New("expression never fires"))
	}
	return sched, nil
}

// parseRate parses "N unit" where unit is minute(s), hour(s) or day(s).
func parseRate(body string) (time.Duration, error) {
	fields := strings.Fields(body)
	if len(fields) != 2 {
		return 0, fmt.Errorf("rate wants 2 fields, got %d", len(fields))
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n < 1 {
		return 0, fmt.Errorf("rate value %q must be a positive integer", fields[0])
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
		return 0, fmt.Errorf("rate unit %q must be minutes, hours or days", fields[1])
	}
	return time.Duration(n) * unit, nil
}

// awsCron rewrites the body of a cron(...) expression as a 5-field spec.
// Five fields pass through. Six fields are read with the year field last
// and day-of-week counted 1-7 from Sunday.
func awsCron(body string) (string, error) {
	fields := strings.Fields(body)
	switch len(fields) {
	case 5:
		return strings.Join(fields, " "), nil
	case 6:
	default:
		return "", fmt.Errorf("cron wants 5 or 6 fields, got %d", len(fields))
	}

	if year := fields[5]; year != "*" && year != "?" {
		return "", fmt.Errorf("year field %q is not supported", year)
	}
	dow, err := shiftDow(fields[4])
	if err != nil {
		return "", err
	}
	fields[4] = dow
	return strings.Join(fields[:5], " "), nil
}

// shiftDow converts numeric day-of-week values from 1-7 to 0-6. Names,
// wildcards and step values are left as they are.
func shiftDow(field string) (string, error) {
	parts := strings.Split(field, ",")
	for i, part := range parts {
		rng, step, hasStep := strings.Cut(part, "/")
		bounds := strings.Split(rng, "-")
		for j, b := range bounds {
			n, err := strconv.Atoi(b)
			if err != nil {
				continue
			}
			if n < 1 || n > 7 {
				return "", fmt.Errorf("day-of-week %d out of range 1-7", n)
			}
			bounds[j] = strconv.Itoa(n - 1)
		}
		parts[i] = strings.Join(bounds, "-")
		if hasStep {
			parts[i] += "/" + step
		}
	}
	return strings.Join(parts, ","), nil
}
