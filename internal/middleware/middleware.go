// Package middleware holds the HTTP middleware for the admin API.
package middleware

type contextKey string
