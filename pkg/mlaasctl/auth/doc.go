// Package auth obtains access tokens from the identity provider and manages
// the cached session.
//
// A Manager first reuses a cached session issued by the configured provider,
// then tries a single refresh grant, and finally logs in with the password or
// client_credentials grant. Grants go through a Provider: KeycloakProvider
// (gocloak) for Keycloak realms and OIDCProvider (x/oauth2) for other issuers.
package auth
