// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "testing"

func TestCreateSessionRequestValidate(t *testing.T) {
	cases := []struct {
		name    string
		req     CreateSessionRequest
		wantErr bool
	}{
		{"online", CreateSessionRequest{SessionType: "ONLINE"}, false},
		{"offline with dump dir", CreateSessionRequest{SessionType: "OFFLINE", DumpDir: "job_a"}, false},
		{"offline without dump dir", CreateSessionRequest{SessionType: "OFFLINE"}, true},
		{"unknown type", CreateSessionRequest{SessionType: "REPLAY"}, true},
		{"missing type", CreateSessionRequest{}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestControlRequestValidate(t *testing.T) {
	cases := []struct {
		name    string
		req     ControlRequest
		wantErr bool
	}{
		{"pause", ControlRequest{Mode: "pause"}, false},
		{"continue steps", ControlRequest{Mode: "continue", Level: "step", Steps: 10}, false},
		{"continue indefinitely", ControlRequest{Mode: "continue", Steps: -1}, false},
		{"recheck", ControlRequest{Mode: "continue", Level: "recheck"}, false},
		{"below -1", ControlRequest{Mode: "continue", Steps: -2}, true},
		{"bad level", ControlRequest{Mode: "continue", Level: "epoch"}, true},
		{"bad mode", ControlRequest{Mode: "sprint"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestUpdateWatchpointRequestValidate(t *testing.T) {
	node := WatchNode{Name: "Default/conv1/Conv2D-op1"}

	valid := UpdateWatchpointRequest{WatchpointID: 1, Mode: "add", WatchNodes: []WatchNode{node}}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	empty := UpdateWatchpointRequest{WatchpointID: 1, Mode: "remove"}
	if err := empty.Validate(); err == nil {
		t.Fatal("empty node list must be rejected")
	}

	nameless := UpdateWatchpointRequest{WatchpointID: 1, Mode: "add",
		WatchNodes: []WatchNode{{RankID: 0}}}
	if err := nameless.Validate(); err == nil {
		t.Fatal("node without a name must be rejected")
	}
}

func TestHitsQueryValidate(t *testing.T) {
	if err := (&HitsQuery{Limit: 10}).Validate(); err != nil {
		t.Fatalf("default query rejected: %v", err)
	}
	if err := (&HitsQuery{Limit: 0}).Validate(); err == nil {
		t.Fatal("zero limit must be rejected")
	}
	if err := (&HitsQuery{Limit: 10, Offset: -1}).Validate(); err == nil {
		t.Fatal("negative offset must be rejected")
	}
}
