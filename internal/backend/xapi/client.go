package xapi

import (
	"net/http"

	xenapi "github.com/terra-farm/go-xen-api-client"
)

const apiVersion = "1.0"

// vdiSpec is what a new virtual disk is created with.
type vdiSpec struct {
	SR              string
	NameLabel       string
	NameDescription string
	VirtualSize     int
}

// rpc is the slice of the XenAPI object model the backend talks to.
type rpc interface {
	LoginWithPassword(user, password, originator string) (string, error)
	Logout(session string) error
	Pools(session string) ([]string, error)
	PoolDefaultSR(session, pool string) (string, error)
	SRByUUID(session, uuid string) (string, error)
	CreateVDI(session string, spec vdiSpec) (string, error)
	VDIUUID(session, vdi string) (string, error)
	DestroyVDI(session, vdi string) error
}

// xenapiRPC adapts the generated XML-RPC bindings to rpc.
type xenapiRPC struct {
	client *xenapi.Client
}

func newXenapiRPC(url string, transport *http.Transport) (*xenapiRPC, error) {
	client, err := xenapi.NewClient(url, transport)
	if err != nil {
		return nil, err
	}
	return &xenapiRPC{client: client}, nil
}

func (x *xenapiRPC) LoginWithPassword(user, password, originator string) (string, error) {
	s, err := x.client.Session.LoginWithPassword(user, password, apiVersion, originator)
	return string(s), err
}

func (x *xenapiRPC) Logout(session string) error {
	return x.client.Session.Logout(xenapi.SessionRef(session))
}

func (x *xenapiRPC) Pools(session string) ([]string, error) {
	refs, err := x.client.Pool.GetAll(xenapi.SessionRef(session))
	if err != nil {
		return nil, err
	}
	pools := make([]string, 0, len(refs))
	for _, ref := range refs {
		pools = append(pools, string(ref))
	}
	return pools, nil
}

func (x *xenapiRPC) PoolDefaultSR(session, pool string) (string, error) {
	sr, err := x.client.Pool.GetDefaultSR(xenapi.SessionRef(session), xenapi.PoolRef(pool))
	return string(sr), err
}

func (x *xenapiRPC) SRByUUID(session, uuid string) (string, error) {
	sr, err := x.client.SR.GetByUUID(xenapi.SessionRef(session), uuid)
	return string(sr), err
}

func (x *xenapiRPC) CreateVDI(session string, spec vdiSpec) (string, error) {
	vdi, err := x.client.VDI.Create(xenapi.SessionRef(session), xenapi.VDIRecord{
		NameLabel:       spec.NameLabel,
		NameDescription: spec.NameDescription,
		SR:              xenapi.SRRef(spec.SR),
		VirtualSize:     spec.VirtualSize,
		Type:            xenapi.VdiTypeUser,
		Sharable:        false,
		ReadOnly:        false,
		OtherConfig:     map[string]string{},
		XenstoreData:    map[string]string{},
		SmConfig:        map[string]string{},
	})
	return string(vdi), err
}

func (x *xenapiRPC) VDIUUID(session, vdi string) (string, error) {
	return x.client.VDI.GetUUID(xenapi.SessionRef(session), xenapi.VDIRef(vdi))
}

func (x *xenapiRPC) DestroyVDI(session, vdi string) error {
	return x.client.VDI.Destroy(xenapi.SessionRef(session), xenapi.VDIRef(vdi))
}
