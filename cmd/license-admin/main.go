// license-admin is an interactive operator tool that talks directly to the
// license store. It covers the workflows support staff need when the
// dashboard is unavailable: issuing keys, inspecting a license, and
// applying lifecycle transitions.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"embpay-license-server/config"
	"embpay-license-server/internal/audit"
	"embpay-license-server/internal/database"
	"embpay-license-server/internal/events"
	"embpay-license-server/internal/license"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	repo := database.NewRepository(db)
	svc := license.NewService(repo, audit.New(repo), events.NewEventBus(), license.Config{
		KeyPrefix:             cfg.LicenseConfig.KeyPrefix,
		DefaultMaxActivations: cfg.LicenseConfig.DefaultMaxActivations,
	})

	fmt.Println("========================================")
	fmt.Println(" License Administration Tool")
	fmt.Println("========================================")

	reader := bufio.NewReader(os.Stdin)

	for {
		fmt.Println("\nOptions:")
		fmt.Println("  1. Issue license key")
		fmt.Println("  2. Look up a license key")
		fmt.Println("  3. List recent licenses")
		fmt.Println("  4. Revoke / suspend / reactivate")
		fmt.Println("  5. Exit")
		fmt.Print("\nSelect option: ")

		input, _ := reader.ReadString('\n')
		input = strings.TrimSpace(input)

		switch input {
		case "1":
			issueLicense(reader, svc)
		case "2":
			lookupLicense(reader, repo)
		case "3":
			listLicenses(svc)
		case "4":
			mutateLicense(reader, svc)
		case "5":
			fmt.Println("Goodbye!")
			os.Exit(0)
		default:
			fmt.Println("Invalid option")
		}
	}
}

func operatorActor() license.Actor {
	return license.Actor{
		ID:    audit.SystemActorID,
		Email: "cli@embpay.local",
	}
}

func prompt(reader *bufio.Reader, label string) string {
	fmt.Print(label)
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func issueLicense(reader *bufio.Reader, svc *license.Service) {
	fmt.Println("\n--- Issue License Key ---")

	req := license.IssueRequest{
		ProductID:     prompt(reader, "Product ID: "),
		ProductName:   prompt(reader, "Product name: "),
		OwnerUserID:   prompt(reader, "Owner user ID: "),
		OrderID:       prompt(reader, "Order ID (optional): "),
		CustomerEmail: prompt(reader, "Customer email (optional): "),
		CustomerName:  prompt(reader, "Customer name (optional): "),
	}
	if req.ProductID == "" || req.OwnerUserID == "" {
		fmt.Println("Product ID and owner user ID are required")
		return
	}

	if raw := prompt(reader, "Max activations (default from config): "); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			req.MaxActivations = n
		}
	}
	if raw := prompt(reader, "Expires (YYYY-MM-DD, blank for perpetual): "); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			fmt.Println("Invalid date, issuing without expiry")
		} else {
			req.ExpiresAt = &t
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	lic, err := svc.Issue(ctx, req, operatorActor())
	if err != nil {
		fmt.Printf("Failed to issue license: %v\n", err)
		return
	}

	fmt.Println("\n========================================")
	fmt.Printf("  License Key: %s\n", lic.Key)
	fmt.Printf("  License ID:  %s\n", lic.ID)
	fmt.Printf("  Product:     %s\n", lic.ProductID)
	fmt.Printf("  Slots:       %d\n", lic.MaxActivations)
	fmt.Println("========================================")
}

func lookupLicense(reader *bufio.Reader, repo *database.Repository) {
	key := prompt(reader, "\nLicense key: ")
	if key == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	lic, err := repo.GetLicenseByKey(ctx, key)
	if err != nil {
		fmt.Printf("Lookup failed: %v\n", err)
		return
	}
	if lic == nil {
		fmt.Println("No license found for that key")
		return
	}

	printLicense(lic)

	activations, err := repo.ListActivations(ctx, lic.ID)
	if err != nil {
		fmt.Printf("Failed to list activations: %v\n", err)
		return
	}
	if len(activations) == 0 {
		fmt.Println("  No activation records")
		return
	}
	fmt.Println("  Activations:")
	for _, a := range activations {
		state := "released"
		if a.IsActive {
			state = "active"
		}
		lastSeen := "never"
		if a.LastSeenAt != nil {
			lastSeen = a.LastSeenAt.Format("2006-01-02 15:04")
		}
		fmt.Printf("    %-24s %-8s last seen %s\n", a.MachineID, state, lastSeen)
	}
}

func listLicenses(svc *license.Service) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	items, total, err := svc.ListLicenses(ctx, database.LicenseFilter{Limit: 20})
	if err != nil {
		fmt.Printf("Failed to list licenses: %v\n", err)
		return
	}

	fmt.Printf("\n%d licenses total, newest 20:\n", total)
	for _, lic := range items {
		expiry := "perpetual"
		if lic.ExpiresAt != nil {
			expiry = lic.ExpiresAt.Format("2006-01-02")
		}
		fmt.Printf("  %-30s %-10s %d/%d slots  expires %s\n",
			lic.Key, lic.Status, lic.ActiveActivations, lic.MaxActivations, expiry)
	}
}

func mutateLicense(reader *bufio.Reader, svc *license.Service) {
	fmt.Println("\n--- Lifecycle Transition ---")
	licenseID := prompt(reader, "License ID: ")
	if licenseID == "" {
		return
	}

	fmt.Println("Actions: revoke, suspend, reactivate")
	action := prompt(reader, "Action: ")
	reason := prompt(reader, "Reason (optional): ")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	lic, err := svc.Transition(ctx, licenseID, action, reason, operatorActor())
	if err != nil {
		fmt.Printf("Transition failed: %v\n", err)
		return
	}

	fmt.Printf("License %s is now %s\n", license.MaskKey(lic.Key), lic.Status)
}

func printLicense(lic *database.License) {
	expiry := "perpetual"
	if lic.ExpiresAt != nil {
		expiry = lic.ExpiresAt.Format("2006-01-02")
	}
	fmt.Println("\n========================================")
	fmt.Printf("  ID:        %s\n", lic.ID)
	fmt.Printf("  Key:       %s\n", lic.Key)
	fmt.Printf("  Product:   %s (%s)\n", lic.ProductName, lic.ProductID)
	fmt.Printf("  Status:    %s\n", lic.Status)
	fmt.Printf("  Slots:     %d\n", lic.MaxActivations)
	fmt.Printf("  Expires:   %s\n", expiry)
	if lic.RevokedReason != nil {
		fmt.Printf("  Revoked:   %s\n", *lic.RevokedReason)
	}
	fmt.Println("========================================")
}
