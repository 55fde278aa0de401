package role

import (
	"reflect"
	"testing"

	"roomctl/internal/device"
	"roomctl/internal/model"
)

func TestResolve(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  device.GroupStatus
		want Assignment
	}{
		{
			name: "empty is solo",
			raw:  device.GroupStatus{},
			want: Assignment{Role: model.RoleSolo},
		},
		{
			name: "slave hint",
			raw:  device.GroupStatus{Role: "slave", MasterID: "m"},
			want: Assignment{Role: model.RoleSlave, MasterID: "m"},
		},
		{
			name: "master hint with members",
			raw:  device.GroupStatus{Role: "master", Members: []string{"b", "c"}},
			want: Assignment{Role: model.RoleMaster, MemberIDs: []string{"b", "c"}},
		},
		{
			name: "master hint without members collapses to solo",
			raw:  device.GroupStatus{Role: "master"},
			want: Assignment{Role: model.RoleSolo},
		},
		{
			name: "no hint, members imply master",
			raw:  device.GroupStatus{Members: []string{"b"}},
			want: Assignment{Role: model.RoleMaster, MemberIDs: []string{"b"}},
		},
		{
			name: "no hint, master_id implies slave",
			raw:  device.GroupStatus{MasterID: "m"},
			want: Assignment{Role: model.RoleSlave, MasterID: "m"},
		},
		{
			name: "slave hint without master_id is solo",
			raw:  device.GroupStatus{Role: "slave"},
			want: Assignment{Role: model.RoleSolo},
		},
		{
			name: "contradictory slave hint drops members",
			raw:  device.GroupStatus{Role: "slave", MasterID: "m", Members: []string{"b"}},
			want: Assignment{Role: model.RoleSlave, MasterID: "m"},
		},
		{
			name: "contradictory master hint drops master_id",
			raw:  device.GroupStatus{Role: "master", MasterID: "m", Members: []string{"b"}},
			want: Assignment{Role: model.RoleMaster, MemberIDs: []string{"b"}},
		},
		{
			name: "contradictory without hint trusts member list",
			raw:  device.GroupStatus{MasterID: "m", Members: []string{"b"}},
			want: Assignment{Role: model.RoleMaster, MemberIDs: []string{"b"}},
		},
		{
			name: "self never appears in own members",
			raw:  device.GroupStatus{Role: "master", Members: []string{"a", "b", "a", "c", "b"}},
			want: Assignment{Role: model.RoleMaster, MemberIDs: []string{"b", "c"}},
		},
		{
			name: "self as master is ignored",
			raw:  device.GroupStatus{Role: "slave", MasterID: "a"},
			want: Assignment{Role: model.RoleSolo},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := Resolve("a", tc.raw)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got %+v want %+v", got, tc.want)
			}
		})
	}
}

func TestResolve_ExactlyOneRole(t *testing.T) {
	t.Parallel()

	// Every resolution carries role-consistent fields: masterID only for
	// slaves, members only for masters.
	inputs := []device.GroupStatus{
		{},
		{Role: "slave", MasterID: "m"},
		{Role: "master", Members: []string{"b"}},
		{Role: "slave", MasterID: "m", Members: []string{"b", "c"}},
		{MasterID: "m", Members: []string{"b"}},
		{Role: "garbage", MasterID: "m", Members: []string{"b"}},
	}
	for _, raw := range inputs {
		got := Resolve("a", raw)
		switch got.Role {
		case model.RoleSlave:
			if got.MasterID == "" || len(got.MemberIDs) > 0 {
				t.Fatalf("inconsistent slave: %+v", got)
			}
		case model.RoleMaster:
			if got.MasterID != "" || len(got.MemberIDs) == 0 {
				t.Fatalf("inconsistent master: %+v", got)
			}
		case model.RoleSolo:
			if got.MasterID != "" || len(got.MemberIDs) > 0 {
				t.Fatalf("inconsistent solo: %+v", got)
			}
		default:
			t.Fatalf("unknown role: %+v", got)
		}
	}
}

func TestFor_Traits(t *testing.T) {
	t.Parallel()

	if !For(model.RoleMaster).LeadsGroup {
		t.Fatalf("master should lead groups")
	}
	if For(model.RoleSlave).AcceptsTransport {
		t.Fatalf("slave transport should be delegated")
	}
	if !For(model.RoleSolo).AcceptsTransport {
		t.Fatalf("solo accepts transport")
	}
	if For(model.Role("bogus")) != For(model.RoleSolo) {
		t.Fatalf("unknown role should fall back to solo traits")
	}
}
