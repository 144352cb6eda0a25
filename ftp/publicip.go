package ftp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// PublicIpUrl is the url to get the public ip of the server
const PublicIpUrl = "https://api.ipify.org"

// GetServerPublicIP returns the public IP of the server as seen by ipify
func GetServerPublicIP(ctx context.Context) (string, error) {
	return lookupPublicIP(ctx, PublicIpUrl)
}

func lookupPublicIP(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("error getting public ip: %w", err)
	}
	ipifyRes, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("error getting public ip: %w", err)
	}
	defer ipifyRes.Body.Close()
	if ipifyRes.StatusCode != http.StatusOK {
		return "", fmt.Errorf("error getting public ip: %s", ipifyRes.Status)
	}
	ftpServerIPv4, err := io.ReadAll(io.LimitReader(ipifyRes.Body, 64))
	if err != nil {
		return "", fmt.Errorf("error reading public ip: %w", err)
	}
	return strings.TrimSpace(string(ftpServerIPv4)), nil
}
