// Package config loads the dav-proxy configuration.
//
// Configuration comes from an optional YAML file, by default
// ~/.config/dav-proxy/config.yaml, laid over built-in defaults. Command line
// flags override file values; that merge happens in the cmd package.
//
// # Example
//
//	listen:
//	  bind: 127.0.0.1
//	  port: 8080
//	credentialsFile: ~/.config/dav-proxy/credentials.json
//	tokenFile: ~/.config/dav-proxy/token.json
//	upstream: https://apidata.googleusercontent.com/
//	scopes:
//	  - https://www.googleapis.com/auth/calendar
//	authTimeout: 5m
//	metricsAddr: 127.0.0.1:9090
//	log:
//	  level: info
//	  format: json
package config
