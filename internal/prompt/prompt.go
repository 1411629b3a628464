package prompt

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/ssh/terminal"
)

// readPassword reads one line from the terminal without echo.
var readPassword = func() ([]byte, error) {
	return terminal.ReadPassword(int(os.Stdin.Fd()))
}

// promptList prompts the user with the given prefix, list of valid responses,
// and default list entry to use.  The function will repeat the prompt to the
// user until they enter a valid response.
func promptList(reader *bufio.Reader, prefix string, validResponses []string, defaultEntry string) (string, error) {
	// Setup the prompt according to the parameters.
	validStrings := strings.Join(validResponses, "/")
	var prompt string
	if defaultEntry != "" {
		prompt = fmt.Sprintf("%s (%s) [%s]: ", prefix, validStrings,
			defaultEntry)
	} else {
		prompt = fmt.Sprintf("%s (%s): ", prefix, validStrings)
	}

	// Prompt the user until one of the valid responses is given.
	for {
		fmt.Print(prompt)
		reply, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		reply = strings.TrimSpace(strings.ToLower(reply))
		if reply == "" {
			reply = defaultEntry
		}

		for _, validResponse := range validResponses {
			if reply == validResponse {
				return reply, nil
			}
		}
	}
}

// promptListBool prompts the user for a boolean (yes/no) with the given prefix.
// The function will repeat the prompt to the user until they enter a valid
// response.
func promptListBool(reader *bufio.Reader, prefix string, defaultEntry string) (bool, error) {
	// Setup the valid responses.
	valid := []string{"n", "no", "y", "yes"}
	response, err := promptList(reader, prefix, valid, defaultEntry)
	if err != nil {
		return false, err
	}
	return response == "yes" || response == "y", nil
}

// promptPass prompts the user for a passphrase with the given prefix.  The
// function will ask the user to confirm the passphrase and will repeat the
// prompts until they enter a matching response.
func promptPass(prefix string, confirm bool) ([]byte, error) {
	// Prompt the user until they enter a passphrase.
	prompt := fmt.Sprintf("%s: ", prefix)
	for {
		fmt.Print(prompt)
		pass, err := readPassword()
		if err != nil {
			return nil, err
		}
		fmt.Print("\n")
		pass = bytes.TrimSpace(pass)
		if len(pass) == 0 {
			continue
		}

		if !confirm {
			return pass, nil
		}

		fmt.Print("Confirm passphrase: ")
		confirm, err := readPassword()
		if err != nil {
			return nil, err
		}
		fmt.Print("\n")
		confirm = bytes.TrimSpace(confirm)
		if !bytes.Equal(pass, confirm) {
			fmt.Println("The entered passphrases do not match")
			continue
		}

		return pass, nil
	}
}

// NewPassphrase prompts the user for the passphrase of a new wallet and asks
// for it a second time.  Both prompts are repeated until the user enters a
// non-empty, matching response.
func NewPassphrase() ([]byte, error) {
	return promptPass("Enter the passphrase for your new wallet", true)
}

// Passphrase prompts the user once for the passphrase of an existing wallet
// or backup.
func Passphrase(prefix string) ([]byte, error) {
	return promptPass(prefix, false)
}

// Mnemonic asks the user whether they want to use an existing mnemonic.  When
// they do, the mnemonic and its optional extension are read and the mnemonic
// is checked with validate until it passes.  Empty strings are returned when
// the wallet should generate a fresh mnemonic.
func Mnemonic(reader *bufio.Reader, validate func(string) bool) (string, string, error) {
	useExisting, err := promptListBool(reader, "Do you have an "+
		"existing mnemonic you want to use?", "no")
	if err != nil {
		return "", "", err
	}
	if !useExisting {
		return "", "", nil
	}

	var mnemonic string
	for {
		fmt.Print("Enter existing wallet mnemonic: ")
		mnemonic, err = reader.ReadString('\n')
		if err != nil {
			return "", "", err
		}
		mnemonic = strings.Join(strings.Fields(mnemonic), " ")
		if validate(mnemonic) {
			break
		}
		fmt.Println("Invalid mnemonic specified")
	}

	fmt.Print("Enter the mnemonic extension (leave empty for none): ")
	extension, err := reader.ReadString('\n')
	if err != nil {
		return "", "", err
	}
	extension = strings.TrimRight(extension, "\r\n")

	return mnemonic, extension, nil
}

// ShowMnemonic displays a freshly generated mnemonic and waits for the user to
// confirm they stored it.
func ShowMnemonic(reader *bufio.Reader, mnemonic string) error {
	fmt.Println("Your wallet generation mnemonic is:")
	fmt.Println(mnemonic)
	fmt.Println("IMPORTANT: Keep the mnemonic in a safe place as you\n" +
		"will NOT be able to restore your wallet without it.")
	fmt.Println("Please keep in mind that anyone who has access\n" +
		"to the mnemonic can also restore your wallet thereby\n" +
		"giving them access to all your funds, so it is\n" +
		"imperative that you keep it in a secure location.")

	for {
		fmt.Print(`Once you have stored the mnemonic in a safe ` +
			`and secure location, enter "OK" to continue: `)
		confirm, err := reader.ReadString('\n')
		if err != nil {
			return err
		}
		confirm = strings.TrimSpace(confirm)
		confirm = strings.Trim(confirm, `"`)
		if confirm == "OK" {
			return nil
		}
	}
}

// Confirm asks a yes/no question defaulting to no.
func Confirm(reader *bufio.Reader, question string) (bool, error) {
	return promptListBool(reader, question, "no")
}
