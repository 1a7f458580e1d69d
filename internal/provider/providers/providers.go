// Package providers wires every built-in provider family into a registry.
// It exists separately from package provider so adapters can import the
// contract without forming a cycle.
package providers

import (
	"github.com/dhawalhost/dirsync/internal/provider"
	"github.com/dhawalhost/dirsync/internal/provider/azuread"
	"github.com/dhawalhost/dirsync/internal/provider/googlews"
	"github.com/dhawalhost/dirsync/internal/provider/ldapdir"
	"github.com/dhawalhost/dirsync/internal/provider/okta"
	"github.com/dhawalhost/dirsync/internal/provider/onelogin"
)

// NewRegistry returns a registry with all supported provider families.
func NewRegistry() *provider.Registry {
	r := provider.NewRegistry()
	r.Register(provider.KindAzureAD, azuread.New)
	r.Register(provider.KindGoogleWorkspace, googlews.New)
	r.Register(provider.KindOkta, okta.New)
	r.Register(provider.KindOneLogin, onelogin.New)
	r.Register(provider.KindLDAP, ldapdir.New)
	return r
}
