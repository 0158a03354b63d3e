// Package common contains shared constants and sentinel errors used across
// the federation node components.
package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// access token on outbound requests.
const AccessTokenHeaderName = "access_token"

// UserAgent is sent with every outbound federation request.
const UserAgent = "fedinode/0.1 (+https://github.com/dmitrijs2005/fedinode)"

// DeletedAccountBio replaces the bio of a contact whose account was deleted.
const DeletedAccountBio = "This account has been deleted."

// Version is reported in node statistics.
const Version = "0.1.0"
