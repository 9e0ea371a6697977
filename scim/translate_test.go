package scim

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestTranslateFilter(t *testing.T) {
	tests := []struct {
		name    string
		filter  string
		want    []QueryDescriptor
		wantErr bool
	}{
		{
			name:   "empty filter",
			filter: "",
			want:   []QueryDescriptor{{}},
		},
		{
			name:   "simple eq",
			filter: `userName eq "bjensen"`,
			want:   []QueryDescriptor{{Attribute: "userName", Operator: "eq", Value: "bjensen"}},
		},
		{
			name:   "simple co",
			filter: `displayName co "jensen"`,
			want:   []QueryDescriptor{{Attribute: "displayName", Operator: "co", Value: "jensen"}},
		},
		{
			name:   "multi-value shorthand",
			filter: `emails eq "bjensen@example.com"`,
			want:   []QueryDescriptor{{Attribute: "emails.value", Operator: "eq", Value: "bjensen@example.com"}},
		},
		{
			name:   "eq disjunction splits",
			filter: `userName eq "a" or userName eq "b" or userName eq "c"`,
			want: []QueryDescriptor{
				{Attribute: "userName", Operator: "eq", Value: "a"},
				{Attribute: "userName", Operator: "eq", Value: "b"},
				{Attribute: "userName", Operator: "eq", Value: "c"},
			},
		},
		{
			name:   "mixed disjunction stays raw",
			filter: `userName eq "a" or userName co "b"`,
			want:   []QueryDescriptor{{RawFilter: `userName eq "a" or userName co "b"`}},
		},
		{
			name:   "conjunction stays raw",
			filter: `userName eq "a" and active eq true`,
			want:   []QueryDescriptor{{RawFilter: `userName eq "a" and active eq true`}},
		},
		{
			name:    "password filter rejected",
			filter:  `password eq "hunter2"`,
			wantErr: true,
		},
		{
			name:    "password in raw filter rejected",
			filter:  `userName eq "a" and password pr`,
			wantErr: true,
		},
		{
			name:    "unparseable filter",
			filter:  `userName`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TranslateFilter(tt.filter)
			if (err != nil) != tt.wantErr {
				t.Fatalf("TranslateFilter() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("TranslateFilter() returned %d descriptors, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("descriptor[%d] = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestResolveUnion(t *testing.T) {
	qs := []QueryDescriptor{
		{Attribute: "userName", Operator: "eq", Value: "a"},
		{Attribute: "userName", Operator: "eq", Value: "b"},
		{Attribute: "userName", Operator: "eq", Value: "shared"},
	}

	fetch := func(ctx context.Context, q QueryDescriptor) ([]*User, error) {
		switch q.Value {
		case "a":
			return []*User{{ID: "1", UserName: "a"}}, nil
		case "b":
			return []*User{{ID: "2", UserName: "b"}}, nil
		default:
			// Overlaps with branch "a" to exercise deduplication.
			return []*User{{ID: "1", UserName: "a"}, {ID: "3", UserName: "shared"}}, nil
		}
	}

	users, err := ResolveUnion(context.Background(), qs, func(u *User) string { return u.ID }, fetch)
	if err != nil {
		t.Fatalf("ResolveUnion() error = %v", err)
	}

	if len(users) != 3 {
		t.Fatalf("ResolveUnion() returned %d users, want 3", len(users))
	}
	wantOrder := []string{"1", "2", "3"}
	for i, u := range users {
		if u.ID != wantOrder[i] {
			t.Errorf("users[%d].ID = %s, want %s", i, u.ID, wantOrder[i])
		}
	}
}

func TestResolveUnionPropagatesError(t *testing.T) {
	qs := []QueryDescriptor{
		{Attribute: "userName", Operator: "eq", Value: "a"},
		{Attribute: "userName", Operator: "eq", Value: "boom"},
	}

	fetch := func(ctx context.Context, q QueryDescriptor) ([]*User, error) {
		if q.Value == "boom" {
			return nil, errors.New("backend unavailable")
		}
		return nil, nil
	}

	if _, err := ResolveUnion(context.Background(), qs, func(u *User) string { return u.ID }, fetch); err == nil {
		t.Fatal("ResolveUnion() expected error, got nil")
	}
}

func TestResolveUnionAggregatesAllBranchErrors(t *testing.T) {
	qs := []QueryDescriptor{
		{Attribute: "userName", Operator: "eq", Value: "first-down"},
		{Attribute: "userName", Operator: "eq", Value: "ok"},
		{Attribute: "userName", Operator: "eq", Value: "second-down"},
	}

	fetched := make(chan string, len(qs))
	fetch := func(ctx context.Context, q QueryDescriptor) ([]*User, error) {
		fetched <- q.Value
		if strings.HasSuffix(q.Value, "down") {
			return nil, errors.New(q.Value + " unavailable")
		}
		return []*User{{ID: q.Value}}, nil
	}

	_, err := ResolveUnion(context.Background(), qs, func(u *User) string { return u.ID }, fetch)
	if err == nil {
		t.Fatal("ResolveUnion() expected error, got nil")
	}
	if !strings.Contains(err.Error(), "first-down unavailable") ||
		!strings.Contains(err.Error(), "second-down unavailable") {
		t.Errorf("aggregate error %q is missing a branch failure", err)
	}
	close(fetched)
	if len(fetched) != len(qs) {
		t.Errorf("fetched %d branches, want all %d despite failures", len(fetched), len(qs))
	}
}

func TestResolveUnionSingleDescriptor(t *testing.T) {
	called := 0
	fetch := func(ctx context.Context, q QueryDescriptor) ([]*User, error) {
		called++
		return []*User{{ID: fmt.Sprint(called)}}, nil
	}

	users, err := ResolveUnion(context.Background(), []QueryDescriptor{{}}, func(u *User) string { return u.ID }, fetch)
	if err != nil {
		t.Fatalf("ResolveUnion() error = %v", err)
	}
	if called != 1 || len(users) != 1 {
		t.Errorf("single descriptor should fetch exactly once, called=%d len=%d", called, len(users))
	}
}

