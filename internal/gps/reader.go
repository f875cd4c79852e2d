// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"bufio"
	"io"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	log "github.com/sirupsen/logrus"
)

// Reader parses NMEA sentences from a stream and yields a Fix for each
// valid RMC sentence.
type Reader struct {
	r       *bufio.Reader
	current Fix
	skipped int
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next blocks until the next valid fix. Unparseable lines, void RMC
// sentences and other sentence types are skipped. It returns the reader's
// error (io.EOF at the end of the stream).
func (g *Reader) Next() (Fix, error) {
	for {
		line, err := g.r.ReadString('\n')
		if line = strings.TrimSpace(line); line != "" {
			if fix, ok := g.handle(line); ok {
				return fix, nil
			}
		}
		if err != nil {
			return Fix{}, err
		}
	}
}

// Skipped counts lines that were not valid NMEA.
func (g *Reader) Skipped() int {
	return g.skipped
}

func (g *Reader) handle(line string) (Fix, bool) {
	// NMEA sentences start with '$'
	if !strings.HasPrefix(line, "$") {
		g.skipped++
		return Fix{}, false
	}

	sentence, err := nmea.Parse(line)
	if err != nil {
		g.skipped++
		log.Debugf("gps: NMEA parse error: %v (line: %q)", err, line)
		return Fix{}, false
	}

	switch m := sentence.(type) {
	case nmea.GGA:
		if m.FixQuality != nmea.Invalid {
			g.current.AltitudeM = m.Altitude
			g.current.HasAltitude = true
			g.current.Satellites = m.NumSatellites
		}
	case nmea.RMC:
		if m.Validity != nmea.ValidRMC {
			return Fix{}, false
		}
		g.current.Time = fixTime(m.Date, m.Time)
		g.current.Latitude = m.Latitude
		g.current.Longitude = m.Longitude
		g.current.SpeedKmh = m.Speed * KnotsToKmh
		g.current.CourseDeg = m.Course
		return g.current, true
	}
	return Fix{}, false
}

// fixTime combines the RMC date and time in UTC. Receivers report two-digit
// years.
func fixTime(d nmea.Date, t nmea.Time) time.Time {
	if !d.Valid || !t.Valid {
		return time.Now().UTC()
	}
	return time.Date(2000+d.YY, time.Month(d.MM), d.DD,
		t.Hour, t.Minute, t.Second, t.Millisecond*int(time.Millisecond), time.UTC)
}
