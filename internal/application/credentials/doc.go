// Package credentials issues and verifies API keys and webhook secrets.
package credentials
