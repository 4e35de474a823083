// Package docker binds compose service specs to the local Docker
// daemon. The Runtime answers the two questions stack bring-up asks:
// does this image already exist, and is this container healthy yet.
// Start and stop go through the docker compose CLI so its output
// reaches the user verbatim.
package docker
