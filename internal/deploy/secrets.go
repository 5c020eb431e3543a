package deploy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
)

// Feature names accepted by EnableFeature.
const (
	FeatureAWSSecrets = "aws-secrets"
	FeatureIBMSecrets = "ibm-secrets"
)

// EnableFeature enables a named optional feature on the cluster. Credentials
// come from the request payload, with environment variables as fallback so
// developers who exported their keys do not have to repeat them per request.
func (m *Manager) EnableFeature(ctx context.Context, name string, credentials map[string]string) error {
	switch name {
	case FeatureAWSSecrets:
		return m.ApplyAWSSecrets(ctx, credentials)
	case FeatureIBMSecrets:
		return m.ApplyIBMSecrets(ctx, credentials)
	default:
		return fmt.Errorf("unknown feature: %s", name)
	}
}

// ApplyAWSSecrets creates the secrets the controller needs to provision AWS
// build hosts: the aws-account credentials secret and the aws-ssh-key secret.
func (m *Manager) ApplyAWSSecrets(ctx context.Context, credentials map[string]string) error {
	log.Println("Applying AWS secrets to Kubernetes cluster...")

	if err := m.ensureNamespace(ctx); err != nil {
		return fmt.Errorf("failed to ensure namespace: %w", err)
	}

	if err := m.createAWSAccountSecret(ctx, credentials); err != nil {
		return fmt.Errorf("failed to create aws-account secret: %w", err)
	}

	if err := m.createAWSSSHKeySecret(ctx, credentials); err != nil {
		return fmt.Errorf("failed to create aws-ssh-key secret: %w", err)
	}

	if err := m.verifySecrets(ctx, "aws-account", "aws-ssh-key"); err != nil {
		return fmt.Errorf("secret verification failed: %w", err)
	}

	log.Println("AWS secrets applied successfully!")
	return nil
}

// ApplyIBMSecrets creates the SSH key secrets for the static IBM build hosts
// (s390x and ppc64le) referenced by the host configuration.
func (m *Manager) ApplyIBMSecrets(ctx context.Context, credentials map[string]string) error {
	log.Println("Applying IBM host secrets to Kubernetes cluster...")

	if err := m.ensureNamespace(ctx); err != nil {
		return fmt.Errorf("failed to ensure namespace: %w", err)
	}

	for secretName, credKey := range map[string]string{
		"ibm-s390x-ssh-key":   "s390x_ssh_key_path",
		"ibm-ppc64le-ssh-key": "ppc64le_ssh_key_path",
	} {
		keyPath := credentials[credKey]
		if keyPath == "" {
			return fmt.Errorf("credential %s must be provided", credKey)
		}
		if _, err := os.Stat(keyPath); err != nil {
			return fmt.Errorf("SSH key file not found: %s", keyPath)
		}
		if err := m.replaceSecret(ctx, secretName, "--from-file=id_rsa="+keyPath); err != nil {
			return fmt.Errorf("failed to create %s secret: %w", secretName, err)
		}
	}

	if err := m.verifySecrets(ctx, "ibm-s390x-ssh-key", "ibm-ppc64le-ssh-key"); err != nil {
		return fmt.Errorf("secret verification failed: %w", err)
	}

	log.Println("IBM host secrets applied successfully!")
	return nil
}

// createAWSAccountSecret creates the aws-account secret holding the API
// credentials for provisioning build hosts.
func (m *Manager) createAWSAccountSecret(ctx context.Context, credentials map[string]string) error {
	log.Println("Creating aws-account secret...")

	accessKeyID := credentialOrEnv(credentials, "access_key_id", "AWS_ACCESS_KEY_ID")
	secretAccessKey := credentialOrEnv(credentials, "secret_access_key", "AWS_SECRET_ACCESS_KEY")
	if accessKeyID == "" || secretAccessKey == "" {
		return errors.New("AWS credentials must be provided in the request or via AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY")
	}

	return m.replaceSecret(ctx, "aws-account",
		"--from-literal=access-key-id="+accessKeyID,
		"--from-literal=secret-access-key="+secretAccessKey)
}

// createAWSSSHKeySecret creates the aws-ssh-key secret from the developer's
// SSH private key, used to reach provisioned build hosts.
func (m *Manager) createAWSSSHKeySecret(ctx context.Context, credentials map[string]string) error {
	log.Println("Creating aws-ssh-key secret...")

	sshKeyPath := credentialOrEnv(credentials, "ssh_key_path", "SSH_KEY_PATH")
	if sshKeyPath == "" {
		return errors.New("SSH key path must be provided in the request or via SSH_KEY_PATH")
	}
	if _, err := os.Stat(sshKeyPath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("SSH key file not found: %s", sshKeyPath)
		}
		return fmt.Errorf("cannot access SSH key file: %w", err)
	}

	return m.replaceSecret(ctx, "aws-ssh-key", "--from-file=id_rsa="+sshKeyPath)
}

// replaceSecret deletes any existing secret with the name and recreates it
// from the given kubectl source arguments, so repeated enables pick up
// rotated credentials.
func (m *Manager) replaceSecret(ctx context.Context, name string, sourceArgs ...string) error {
	if result, err := m.kubectl(ctx, "get", "secret", name, "-n", mpcNamespace); err == nil && result.ExitCode == 0 {
		log.Printf("Secret '%s' already exists, replacing...", name)
		if err := m.kubectlOK(ctx, "delete", "secret", name, "-n", mpcNamespace); err != nil {
			log.Printf("WARNING: Failed to delete existing secret: %v", err)
		}
	}

	args := append([]string{"create", "secret", "generic", name}, sourceArgs...)
	args = append(args, "--namespace", mpcNamespace)
	if err := m.kubectlOK(ctx, args...); err != nil {
		return err
	}

	log.Printf("%s secret created successfully", name)
	return nil
}

// verifySecrets checks that each named secret exists in the MPC namespace.
func (m *Manager) verifySecrets(ctx context.Context, names ...string) error {
	log.Println("Verifying secrets...")

	for _, name := range names {
		result, err := m.kubectl(ctx, "get", "secret", name, "-n", mpcNamespace)
		if err != nil || result.ExitCode != 0 {
			return fmt.Errorf("secret '%s' not found in namespace %s", name, mpcNamespace)
		}
		log.Printf("Secret exists: %s", name)
	}

	return nil
}

// credentialOrEnv reads a credential from the request payload, falling back to
// the named environment variable.
func credentialOrEnv(credentials map[string]string, key, envVar string) string {
	if value := credentials[key]; value != "" {
		return value
	}
	return os.Getenv(envVar)
}
