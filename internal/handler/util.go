package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/golang-jwt/jwt/v5"
)

const sessionCookieName = "session_token"

// header performs a case-insensitive header lookup.
func header(req events.APIGatewayProxyRequest, name string) string {
	for k, v := range req.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// cookie returns the value of the named cookie, or "".
func cookie(req events.APIGatewayProxyRequest, name string) string {
	// Cookie format: session_token=xxx; oauth_state=yyy
	for _, part := range strings.Split(header(req, "Cookie"), ";") {
		part = strings.TrimSpace(part)
		if v, ok := strings.CutPrefix(part, name+"="); ok {
			return v
		}
	}
	return ""
}

// GetUserID extracts the user ID from the Authorization header or session cookie.
func GetUserID(req events.APIGatewayProxyRequest, jwtSecret string) (string, error) {
	// 1. Check Authorization Header (Bearer <token>)
	tokenString := ""
	authHeader := header(req, "Authorization")
	if authHeader != "" && strings.HasPrefix(authHeader, "Bearer ") {
		tokenString = strings.TrimPrefix(authHeader, "Bearer ")
	}

	// 2. Check Cookie
	if tokenString == "" {
		tokenString = cookie(req, sessionCookieName)
	}

	if tokenString == "" {
		return "", fmt.Errorf("no authorization token found")
	}

	// Verify JWT
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(jwtSecret), nil
	})

	if err != nil {
		return "", fmt.Errorf("invalid token: %v", err)
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		if sub, ok := claims["sub"].(string); ok {
			return sub, nil
		}
	}

	return "", fmt.Errorf("invalid token claims")
}

func jsonResponse(status int, v any) (events.APIGatewayProxyResponse, error) {
	body, err := json.Marshal(v)
	if err != nil {
		fmt.Printf("json.Marshal error: %v\n", err)
		return textResponse(http.StatusInternalServerError, "Failed to encode response"), nil
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Body:       string(body),
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}, nil
}

func textResponse(status int, body string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{StatusCode: status, Body: body}
}

func unauthorized() (events.APIGatewayProxyResponse, error) {
	return textResponse(http.StatusUnauthorized, "Unauthorized"), nil
}

func frontendURL() string {
	if u := os.Getenv("FRONTEND_URL"); u != "" {
		return u
	}
	return "http://localhost:3000"
}

// cookieHeader builds a Set-Cookie value. Outside dev mode the frontend and
// API sit on different origins, so cookies must be SameSite=None.
func cookieHeader(name, value string, maxAge int) string {
	sameSite := "Lax"
	if os.Getenv("DEV_MODE") != "true" {
		sameSite = "None"
	}
	return fmt.Sprintf("%s=%s; HttpOnly; Path=/; Max-Age=%d; SameSite=%s; Secure", name, value, maxAge, sameSite)
}
