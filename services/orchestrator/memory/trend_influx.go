// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/AleutianAI/aira/services/orchestrator/datatypes"
)

// TrendMeasurement is the InfluxDB measurement sentiment points go to.
const TrendMeasurement = "aira_sentiment"

// TrendSink receives every stored sentiment entry for time-series charts.
type TrendSink interface {
	Record(ctx context.Context, e *datatypes.SentimentEntry) error
}

// NopTrendSink discards entries.
type NopTrendSink struct{}

func (NopTrendSink) Record(context.Context, *datatypes.SentimentEntry) error { return nil }

// InfluxConfig locates the trend bucket.
type InfluxConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// InfluxTrendSink writes one point per (user, day) with blocking writes.
type InfluxTrendSink struct {
	client influxdb2.Client
	writer api.WriteAPIBlocking
}

// NewInfluxTrendSink connects to InfluxDB. The connection is not checked
// here; Ping does that.
func NewInfluxTrendSink(cfg InfluxConfig) (*InfluxTrendSink, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, errors.New("influx url, org and bucket are required")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxTrendSink{client: client, writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket)}, nil
}

// Ping reports whether the server is healthy.
func (s *InfluxTrendSink) Ping(ctx context.Context) error {
	ok, err := s.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("influx ping: %w", err)
	}
	if !ok {
		return errors.New("influx ping: server not ready")
	}
	return nil
}

// Record writes the entry at midnight UTC of its date.
func (s *InfluxTrendSink) Record(ctx context.Context, e *datatypes.SentimentEntry) error {
	p, err := trendPoint(e)
	if err != nil {
		return err
	}
	if err := s.writer.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("write sentiment point: %w", err)
	}
	return nil
}

// Close releases the client.
func (s *InfluxTrendSink) Close() {
	s.client.Close()
}

func trendPoint(e *datatypes.SentimentEntry) (*write.Point, error) {
	day, err := time.Parse(datatypes.DateLayout, e.Date)
	if err != nil {
		return nil, fmt.Errorf("sentiment date %q: %w", e.Date, err)
	}
	return influxdb2.NewPoint(
		TrendMeasurement,
		map[string]string{
			"user_id":         e.UserID,
			"stress_category": string(e.StressCategory),
		},
		map[string]interface{}{
			"mental_score": e.MentalScore,
		},
		day,
	), nil
}
