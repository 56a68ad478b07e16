package models

import (
	"fmt"
	"strconv"
)

// Version schema version, written as the 12 digit string YYYYMMDDHHmm
type Version struct {
	Year   int
	Month  int
	Day    int
	Hour   int
	Minute int
}

// VersionNone the version of a database on which no migration ever ran
var VersionNone = Version{Year: 2000, Month: 1, Day: 1}

/*
NewVersion define a schema version

	@param year int - 2000 to 2100
	@param month int - 1 to 12
	@param day int - 1 to 31
	@param hour int - 0 to 23
	@param minute int - 0 to 59
	@returns the version
*/
func NewVersion(year, month, day, hour, minute int) (Version, error) {
	v := Version{Year: year, Month: month, Day: day, Hour: hour, Minute: minute}
	if err := v.Validate(); err != nil {
		return Version{}, err
	}
	return v, nil
}

// MustVersion NewVersion for statically known versions; panics on invalid input
func MustVersion(year, month, day, hour, minute int) Version {
	v, err := NewVersion(year, month, day, hour, minute)
	if err != nil {
		panic(err)
	}
	return v
}

// Validate check every component is within range
func (v Version) Validate() error {
	bounds := []struct {
		name     string
		value    int
		min, max int
	}{
		{"year", v.Year, 2000, 2100},
		{"month", v.Month, 1, 12},
		{"day", v.Day, 1, 31},
		{"hour", v.Hour, 0, 23},
		{"minute", v.Minute, 0, 59},
	}
	for _, b := range bounds {
		if b.value < b.min || b.value > b.max {
			return fmt.Errorf(
				"version %s %d out of range [%d, %d]", b.name, b.value, b.min, b.max,
			)
		}
	}
	return nil
}

// String 12 digit zero padded form
func (v Version) String() string {
	return fmt.Sprintf("%04d%02d%02d%02d%02d", v.Year, v.Month, v.Day, v.Hour, v.Minute)
}

// Compare returns -1, 0, or 1 when v is older than, equal to, or newer than other
func (v Version) Compare(other Version) int {
	a, b := v.String(), other.String()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

/*
ParseVersion parse the 12 digit form of a version

	@param raw string - YYYYMMDDHHmm
	@returns the version
*/
func ParseVersion(raw string) (Version, error) {
	if len(raw) != 12 {
		return Version{}, fmt.Errorf("version '%s' is not 12 digits", raw)
	}
	parts := []int{}
	for _, span := range [][2]int{{0, 4}, {4, 6}, {6, 8}, {8, 10}, {10, 12}} {
		value, err := strconv.Atoi(raw[span[0]:span[1]])
		if err != nil {
			return Version{}, fmt.Errorf("version '%s' is not numeric [%w]", raw, err)
		}
		parts = append(parts, value)
	}
	return NewVersion(parts[0], parts[1], parts[2], parts[3], parts[4])
}
