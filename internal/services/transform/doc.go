// Package transform talks to the fingerark transform service: duplicate
// checks, embedding, verification, and watermark extraction.
//
// Every endpoint exchanges a JSON envelope with the image carried as base64.
// Non-success responses surface as *services.ServiceError and network failures
// carry services.ErrTransport.
package transform
